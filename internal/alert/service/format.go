package service

import (
	"github.com/dustin/go-humanize"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
)

// usd formats an amount with thousands separators and two decimals.
func usd(a pricingdomain.Amount) string {
	return humanize.FormatFloat("#,###.##", a.Dollars())
}

// usd4 keeps the ledger's four decimals, used for per-request averages.
func usd4(a pricingdomain.Amount) string {
	return humanize.FormatFloat("#,###.####", a.Dollars())
}

// perRequest truncates like the ledger's own average cost.
func perRequest(total pricingdomain.Amount, requests int64) pricingdomain.Amount {
	if requests <= 0 {
		return 0
	}
	return pricingdomain.Amount(int64(total) / requests)
}

func count(n int64) string {
	return humanize.Comma(n)
}
