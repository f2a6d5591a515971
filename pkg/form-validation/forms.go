package validation

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const minNameLength = 2

// FormResult collects every failed check of a form.
type FormResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`

	issues []Result
}

func newFormResult(issues []Result) FormResult {
	errors := make([]string, len(issues))
	for i, issue := range issues {
		errors[i] = issue.Error
	}
	return FormResult{Valid: len(issues) == 0, Errors: errors, issues: issues}
}

// Localize returns the errors in the given language.
func (f FormResult) Localize(tag language.Tag) []string {
	out := make([]string, len(f.issues))
	for i, issue := range f.issues {
		out[i] = issue.Localize(tag)
	}
	return out
}

// Registration is the sign-up form.
type Registration struct {
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
	Email     string `json:"email"`
	Phone     string `json:"telefono"`
	Password  string `json:"password"`
}

func ValidateRegistration(data Registration) FormResult {
	issues := make([]Result, 0)
	if res := validateName(data.FirstName, msgFirstNameRequired, msgFirstNameShort); !res.Valid {
		issues = append(issues, res)
	}
	if res := validateName(data.LastName, msgLastNameRequired, msgLastNameShort); !res.Valid {
		issues = append(issues, res)
	}
	if !ValidateEmail(data.Email) {
		issues = append(issues, invalid(msgEmailInvalid))
	}
	if !ValidatePhone(data.Phone) {
		issues = append(issues, invalid(msgPhoneInvalid))
	}
	if res := ValidatePassword(data.Password); !res.Valid {
		issues = append(issues, res)
	}
	return newFormResult(issues)
}

// validateName counts characters after NFC normalization, so decomposed
// accents do not count twice.
func validateName(name, requiredKey, shortKey string) Result {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return invalid(requiredKey)
	}
	if utf8.RuneCountInString(name) < minNameLength {
		return invalid(shortKey, minNameLength)
	}
	return ok()
}

// Recharge is the top-up form of a game page.
type Recharge struct {
	OptionValue string `json:"option_value"`
	RealPrice   string `json:"real_price"`
	PlayerID    string `json:"player_id"`
}

// ValidateRecharge checks the selected option against the catalogue of gameType,
// the price against the default range, and the player ID where the game needs one.
func ValidateRecharge(data Recharge, gameType string) FormResult {
	issues := make([]Result, 0)
	if data.OptionValue == "" {
		issues = append(issues, invalid(msgOptionRequired))
	} else if res := ValidateGameOption(gameType, data.OptionValue); !res.Valid {
		issues = append(issues, res)
	}
	if res := ValidatePrice(data.RealPrice, DefaultMinPrice, DefaultMaxPrice); !res.Valid {
		issues = append(issues, res)
	}
	if gameType == GameBlockStriker && strings.TrimSpace(data.PlayerID) == "" {
		issues = append(issues, invalid(msgPlayerIDRequired))
	}
	return newFormResult(issues)
}
