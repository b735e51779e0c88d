// Package domain holds the fixed-point money types and the rate table used
// to price narration characters.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const ConversationModelID = "conversation_agent"

var (
	ErrInvalidCharacterCount = errors.New("invalid_character_count")
	ErrInvalidRateTable      = errors.New("invalid_rate_table")
)

type Service interface {
	// Cost prices characterCount characters of modelID, rounded half up to
	// four fractional digits. Unknown models use the default rate.
	Cost(characterCount int64, modelID string) (Amount, error)
	// RateFor returns the rate applied to modelID.
	RateFor(modelID string) (Rate, error)
	// Table returns the current rate table.
	Table() (RateTable, error)
}

// RateTable maps model ids to per-character rates.
type RateTable struct {
	Default Rate
	Rates   map[string]Rate
}

func NewRateTable(defaultRate string, rates map[string]string) (RateTable, error) {
	def, err := ParseRate(defaultRate)
	if err != nil {
		return RateTable{}, fmt.Errorf("%w: default rate: %v", ErrInvalidRateTable, err)
	}
	table := RateTable{Default: def, Rates: make(map[string]Rate, len(rates))}
	for model, raw := range rates {
		model = strings.TrimSpace(model)
		if model == "" {
			return RateTable{}, fmt.Errorf("%w: empty model id", ErrInvalidRateTable)
		}
		rate, err := ParseRate(raw)
		if err != nil {
			return RateTable{}, fmt.Errorf("%w: %s: %v", ErrInvalidRateTable, model, err)
		}
		table.Rates[model] = rate
	}
	return table, nil
}

func (t RateTable) RateFor(modelID string) Rate {
	if rate, ok := t.Rates[modelID]; ok {
		return rate
	}
	return t.Default
}

// Models returns the configured model ids in lexical order.
func (t RateTable) Models() []string {
	out := make([]string, 0, len(t.Rates))
	for model := range t.Rates {
		out = append(out, model)
	}
	sort.Strings(out)
	return out
}

// CostOf prices characters at rate with pure integer arithmetic.
func CostOf(characters int64, rate Rate) (Amount, error) {
	if characters < 0 {
		return 0, ErrInvalidCharacterCount
	}
	perAmountUnit := RateScale / AmountScale
	return Amount(divRoundHalfUp(characters*int64(rate), perAmountUnit)), nil
}
