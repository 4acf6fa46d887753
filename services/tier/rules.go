package tier

import (
	"fmt"

	"github.com/jinjinsansan/hachikai/pkg/errutil"
)

const (
	Min = 1
	Max = 8
)

// Rule is one row of the fixed eight-tier table: daily obligations owed by a
// tier and the daily purchase rights it grants. Loaded once, never mutated.
type Rule struct {
	Tier              int    `json:"tier"`
	PurchasesRequired int64  `json:"purchases_required"`
	AdViewsRequired   int64  `json:"ad_views_required"`
	PurchasesGranted  int64  `json:"purchases_granted"`
	Notes             string `json:"notes"`
}

var rules = [8]Rule{
	{Tier: 1, PurchasesRequired: 0, AdViewsRequired: 0, PurchasesGranted: 0, Notes: "base tier, no special rules"},
	{Tier: 2, PurchasesRequired: 0, AdViewsRequired: 0, PurchasesGranted: 0, Notes: "debt tier: missing the purchase obligation accrues debt"},
	{Tier: 3, PurchasesRequired: 1, AdViewsRequired: 5, PurchasesGranted: 1, Notes: "standard obligations and rights"},
	{Tier: 4, PurchasesRequired: 1, AdViewsRequired: 10, PurchasesGranted: 1, Notes: "increased ad-view obligation"},
	{Tier: 5, PurchasesRequired: 2, AdViewsRequired: 10, PurchasesGranted: 1, Notes: "increased purchase obligation"},
	{Tier: 6, PurchasesRequired: 2, AdViewsRequired: 15, PurchasesGranted: 2, Notes: "increased purchase rights"},
	{Tier: 7, PurchasesRequired: 3, AdViewsRequired: 20, PurchasesGranted: 2, Notes: "high obligations and rights"},
	{Tier: 8, PurchasesRequired: 0, AdViewsRequired: 30, PurchasesGranted: 3, Notes: "top tier: no purchase obligation, maximum purchase rights"},
}

// RuleFor returns the rule row for a tier in [Min, Max].
func RuleFor(t int) (Rule, error) {
	if t < Min || t > Max {
		return Rule{}, errutil.BadRequest(fmt.Sprintf("tier out of range: %d", t))
	}
	return rules[t-1], nil
}

// Valid reports whether t is a legal tier number.
func Valid(t int) bool {
	return t >= Min && t <= Max
}

// All returns the full table in tier order.
func All() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules[:])
	return out
}
