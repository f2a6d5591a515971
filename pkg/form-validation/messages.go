package validation

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys double as the English text.
const (
	msgPasswordRequired  = "password is required"
	msgPasswordShort     = "password must be at least %d characters"
	msgPasswordLong      = "password must be at most %d characters"
	msgBalanceInvalid    = "invalid balance format"
	msgBalanceNegative   = "balance cannot be negative"
	msgBalanceHigh       = "balance is too high"
	msgPriceInvalid      = "invalid price format"
	msgPriceLow          = "minimum price is %s"
	msgPriceHigh         = "maximum price is %s"
	msgGameInvalid       = "game type %q is not valid"
	msgOptionInvalid     = "option %s is not valid for %s"
	msgFirstNameRequired = "first name is required"
	msgFirstNameShort    = "first name must be at least %d characters"
	msgLastNameRequired  = "last name is required"
	msgLastNameShort     = "last name must be at least %d characters"
	msgEmailInvalid      = "invalid email format"
	msgPhoneInvalid      = "invalid phone format"
	msgOptionRequired    = "an option must be selected"
	msgPlayerIDRequired  = "player ID is required for Block Striker"
)

var spanish = map[string]string{
	msgPasswordRequired:  "La contraseña es requerida",
	msgPasswordShort:     "La contraseña debe tener al menos %d caracteres",
	msgPasswordLong:      "La contraseña debe tener como máximo %d caracteres",
	msgBalanceInvalid:    "Formato de saldo inválido",
	msgBalanceNegative:   "El saldo no puede ser negativo",
	msgBalanceHigh:       "El saldo es demasiado alto",
	msgPriceInvalid:      "Formato de precio inválido",
	msgPriceLow:          "El precio mínimo es %s",
	msgPriceHigh:         "El precio máximo es %s",
	msgGameInvalid:       "Tipo de juego %q no válido",
	msgOptionInvalid:     "Opción %s no válida para %s",
	msgFirstNameRequired: "El nombre es requerido",
	msgFirstNameShort:    "El nombre debe tener al menos %d caracteres",
	msgLastNameRequired:  "El apellido es requerido",
	msgLastNameShort:     "El apellido debe tener al menos %d caracteres",
	msgEmailInvalid:      "Formato de email inválido",
	msgPhoneInvalid:      "Formato de teléfono inválido",
	msgOptionRequired:    "Debes seleccionar una opción",
	msgPlayerIDRequired:  "ID del jugador es requerido para Block Striker",
}

var english = message.NewPrinter(language.English)

func init() {
	for key, translation := range spanish {
		if err := message.SetString(language.Spanish, key, translation); err != nil {
			panic(err)
		}
	}
}

// Localize returns the error in the given language, falling back to English.
// It returns "" for valid results.
func (r Result) Localize(tag language.Tag) string {
	if r.Valid || r.key == "" {
		return r.Error
	}
	return message.NewPrinter(tag).Sprintf(r.key, r.args...)
}
