package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// AmountScale is the number of Amount units in one USD (four fractional digits).
	AmountScale int64 = 10_000
	// RateScale is the number of Rate units in one USD (nano-USD).
	RateScale int64 = 1_000_000_000

	amountDigits = 4
	rateDigits   = 9
)

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidRate   = errors.New("invalid_rate")
)

// Amount is a USD value in ten-thousandths of a dollar.
type Amount int64

// Rate is a USD price per character in nano-USD.
type Rate int64

func ParseAmount(raw string) (Amount, error) {
	v, err := parseFixed(raw, amountDigits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return Amount(v), nil
}

func MustParseAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func ParseRate(raw string) (Rate, error) {
	v, err := parseFixed(raw, rateDigits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidRate, raw)
	}
	return Rate(v), nil
}

func (a Amount) String() string {
	return formatFixed(int64(a), amountDigits)
}

// Dollars returns the amount as a float for display only.
func (a Amount) Dollars() float64 {
	return float64(a) / float64(AmountScale)
}

// MulRatio multiplies by another Amount interpreted as a plain ratio
// (e.g. "2" means 2x), rounding half up.
func (a Amount) MulRatio(ratio Amount) Amount {
	return Amount(divRoundHalfUp(int64(a)*int64(ratio), AmountScale))
}

// PercentOf returns how many percent a is of base, or 0 when base is not positive.
func (a Amount) PercentOf(base Amount) float64 {
	if base <= 0 {
		return 0
	}
	return float64(a) / float64(base) * 100
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var f json.Number
		if err := json.Unmarshal(data, &f); err != nil {
			return ErrInvalidAmount
		}
		s = f.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (r Rate) String() string {
	return formatFixed(int64(r), rateDigits)
}

// parseFixed parses a plain decimal string into an integer scaled by 10^digits.
// Extra fractional digits are rounded half up.
func parseFixed(raw string, digits int) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errors.New("empty")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, errors.New("no digits")
	}
	if whole == "" {
		whole = "0"
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, errors.New("not a decimal")
	}

	roundUp := false
	if len(frac) > digits {
		roundUp = frac[digits] >= '5'
		frac = frac[:digits]
	}
	frac += strings.Repeat("0", digits-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	scale := pow10(digits)
	if w > (1<<62)/scale {
		return 0, errors.New("out of range")
	}
	v := w*scale + f
	if roundUp {
		v++
	}
	if neg {
		v = -v
	}
	return v, nil
}

func formatFixed(v int64, digits int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	scale := pow10(digits)
	return fmt.Sprintf("%s%d.%0*d", sign, v/scale, digits, v%scale)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func pow10(n int) int64 {
	out := int64(1)
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}

// divRoundHalfUp divides n by d (d > 0) rounding half away from zero.
func divRoundHalfUp(n, d int64) int64 {
	if n < 0 {
		return -divRoundHalfUp(-n, d)
	}
	return (n + d/2) / d
}
