package validation

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultProcessingFeePercent = 2.5
	DateTimeLayout              = "02/01/2006 15:04:05"
	tempCodeChars               = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// CalculateDiscount returns price reduced by percent, rounded to cents.
func CalculateDiscount(price, percent float64) float64 {
	if percent <= 0 {
		return price
	}
	return round2(price - price*percent/100)
}

// CalculateTax returns price increased by percent, rounded to cents.
func CalculateTax(price, percent float64) float64 {
	if percent <= 0 {
		return price
	}
	return round2(price + price*percent/100)
}

type BulkTier struct {
	Threshold float64
	Percent   float64
}

// DefaultBulkTiers are ordered from the highest threshold down.
var DefaultBulkTiers = []BulkTier{
	{Threshold: 200, Percent: 15},
	{Threshold: 100, Percent: 10},
	{Threshold: 50, Percent: 5},
}

type Discount struct {
	OriginalPrice   float64 `json:"original_price"`
	DiscountPercent float64 `json:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
	FinalPrice      float64 `json:"final_price"`
}

// BulkDiscount applies the first tier (highest threshold first) that total reaches.
func BulkDiscount(total float64, tiers []BulkTier) Discount {
	d := Discount{OriginalPrice: total, FinalPrice: total}
	for _, tier := range tiers {
		if total >= tier.Threshold && tier.Percent > 0 {
			d.DiscountPercent = tier.Percent
			d.DiscountAmount = round2(total * tier.Percent / 100)
			d.FinalPrice = round2(total - total*tier.Percent/100)
			break
		}
	}
	return d
}

func ProcessingFee(amount, percent float64) float64 {
	return round2(amount * percent / 100)
}

func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// GenerateTransactionID builds an ID from prefix (TX if empty), the last three
// characters of userID, the last five digits of the unix time and four random digits.
func GenerateTransactionID(userID, prefix string, now time.Time) string {
	if prefix == "" {
		prefix = "TX"
	}
	suffix := userID
	if r := []rune(userID); len(r) > 3 {
		suffix = string(r[len(r)-3:])
	}
	return prefix + suffix + strconv.FormatInt(now.Unix()%100000, 10) + strconv.Itoa(1000+rand.Intn(9000))
}

// GenerateUniqueID builds an ID from prefix (ID if empty), the unix time and three random digits.
func GenerateUniqueID(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = "ID"
	}
	return prefix + strconv.FormatInt(now.Unix(), 10) + strconv.Itoa(100+rand.Intn(900))
}

func GenerateTempCode(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		b.WriteByte(tempCodeChars[rand.Intn(len(tempCodeChars))])
	}
	return b.String()
}
