// Package validation contains the form helpers used by the pages served from
// the offline snapshot. All checks are local, nothing here talks to a server.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxEmailLength    = 254
	minPhoneDigits    = 7
	maxPhoneDigits    = 15
	minPasswordLength = 6
	maxPasswordLength = 128
	maxBalance        = 999999.99

	DefaultMinPrice       = 0.01
	DefaultMaxPrice       = 1000.00
	DefaultMaxInputLength = 255
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Result of a single check. Error is empty when Valid is true.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`

	// message key and arguments, for Localize
	key  string
	args []any
}

func ok() Result {
	return Result{Valid: true}
}

func invalid(key string, args ...any) Result {
	return Result{Error: english.Sprintf(key, args...), key: key, args: args}
}

func ValidateEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	return emailPattern.MatchString(email)
}

// ValidatePhone accepts any formatting as long as the number has 7 to 15 digits.
func ValidatePhone(phone string) bool {
	digits := 0
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}

func ValidatePassword(password string) Result {
	n := utf8.RuneCountInString(password)
	switch {
	case n == 0:
		return invalid(msgPasswordRequired)
	case n < minPasswordLength:
		return invalid(msgPasswordShort, minPasswordLength)
	case n > maxPasswordLength:
		return invalid(msgPasswordLong, maxPasswordLength)
	}
	return ok()
}

func parseAmount(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func ValidateBalance(balance string) Result {
	f, valid := parseAmount(balance)
	switch {
	case !valid:
		return invalid(msgBalanceInvalid)
	case f < 0:
		return invalid(msgBalanceNegative)
	case f > maxBalance:
		return invalid(msgBalanceHigh)
	}
	return ok()
}

// ValidatePrice checks that price lies within [min, max].
func ValidatePrice(price string, min, max float64) Result {
	f, valid := parseAmount(price)
	switch {
	case !valid:
		return invalid(msgPriceInvalid)
	case f < min:
		return invalid(msgPriceLow, FormatCurrency(min))
	case f > max:
		return invalid(msgPriceHigh, FormatCurrency(max))
	}
	return ok()
}

// FormatCurrency formats amount as dollars with two decimals.
// Amounts that are not numbers are formatted as $0.00.
func FormatCurrency(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	return fmt.Sprintf("$%.2f", amount)
}

// CleanInput trims and NFC-normalizes text, removes the characters <>"' and truncates the
// result to maxLength characters (DefaultMaxInputLength if not positive).
func CleanInput(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxInputLength
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'':
			return -1
		}
		return r
	}, norm.NFC.String(strings.TrimSpace(text)))
	if utf8.RuneCountInString(cleaned) > maxLength {
		cleaned = string([]rune(cleaned)[:maxLength])
	}
	return cleaned
}
