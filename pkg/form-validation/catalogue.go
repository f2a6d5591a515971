package validation

const (
	GameFreeFireLatam  = "freefire_latam"
	GameFreeFireGlobal = "freefire_global"
	GameBlockStriker   = "block_striker"
)

type GameOption struct {
	Name         string  `json:"name"`
	DefaultPrice float64 `json:"default_price"`
}

// GameOptions lists the purchasable options per game, keyed by option value.
var GameOptions = map[string]map[string]GameOption{
	GameFreeFireLatam: {
		"1": {"110 💎 Diamantes", 0.66},
		"2": {"341 💎 Diamantes", 1.99},
		"3": {"572 💎 Diamantes", 3.35},
		"4": {"1.166 💎 Diamantes", 6.70},
		"5": {"2.376 💎 Diamantes", 12.70},
		"6": {"6.138 💎 Diamantes", 29.50},
		"7": {"Tarjeta Básica", 0.40},
		"8": {"Tarjeta Semanal", 1.40},
		"9": {"Tarjeta Mensual", 6.50},
	},
	GameFreeFireGlobal: {
		"1": {"100+10 💎 Diamantes", 0.86},
		"2": {"310+31 💎 Diamantes", 2.90},
		"3": {"520+52 💎 Diamantes", 4.00},
		"4": {"1.060+106 💎 Diamantes", 7.75},
		"5": {"2.180+218 💎 Diamantes", 15.30},
		"6": {"5.600+560 💎 Diamantes", 38.00},
	},
	GameBlockStriker: {
		"1": {"100+16 🪙 Monedas", 0.82},
		"2": {"300+52 🪙 Monedas", 2.60},
		"3": {"500+94 🪙 Monedas", 4.30},
		"4": {"1,000+210 🪙 Monedas", 8.65},
		"5": {"2,000+440 🪙 Monedas", 17.30},
		"6": {"5,000+1,150 🪙 Monedas", 43.15},
		"7": {"🎫 Pase Básico", 3.50},
		"8": {"🎫 Pase Premium", 8.00},
		"9": {"💎 VIP Mensual", 1.85},
	},
}

func GameOptionInfo(gameType, option string) (GameOption, bool) {
	opt, found := GameOptions[gameType][option]
	return opt, found
}

func ValidateGameOption(gameType, option string) Result {
	options, found := GameOptions[gameType]
	if !found {
		return invalid(msgGameInvalid, gameType)
	}
	if _, found := options[option]; !found {
		return invalid(msgOptionInvalid, option, gameType)
	}
	return ok()
}
