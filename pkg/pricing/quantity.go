package pricing

import (
	"context"
	"strconv"
	"strings"

	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/plans"
	"github.com/shopspring/decimal"
)

// Quote is a priced custom quantity
type Quote struct {
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	// PerCharge is the value charged per automated billing.
	PerCharge decimal.Decimal `json:"per_charge"`
}

// PreviewService prices custom quantities
type PreviewService interface {
	PreviewPrice(ctx context.Context, quantity int) (Quote, error)
}

// ParseQuantity parses user input into a positive whole number
func ParseQuantity(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, billing.NewValidationError("quantity", "enter the number of passengers")
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, billing.NewValidationError("quantity", "must be a whole number")
	}
	if n <= 0 {
		return 0, billing.NewValidationError("quantity", "must be greater than zero")
	}
	return n, nil
}

// ValidateQuantity checks a custom quantity against the catalog minimum and
// the system ceiling
func ValidateQuantity(cat *plans.Catalog, quantity, maxQuantity int) error {
	if err := billing.CheckCustomQuantity(cat, quantity); err != nil {
		return err
	}
	if maxQuantity > 0 && quantity > maxQuantity {
		return billing.NewValidationError("quantity", "custom quantities go up to %d", maxQuantity)
	}
	return nil
}

// CustomOptions prices a few custom quantities above the largest tier for
// upgrade suggestions. Failed previews are skipped.
func CustomOptions(ctx context.Context, cat *plans.Catalog, service PreviewService, quantities []int, maxQuantity int) []plans.UpgradeOption {
	var options []plans.UpgradeOption
	for _, q := range quantities {
		if ValidateQuantity(cat, q, maxQuantity) != nil {
			continue
		}
		quote, err := service.PreviewPrice(ctx, q)
		if err != nil {
			continue
		}
		options = append(options, plans.UpgradeOption{Quantity: q, Price: quote.Price, Custom: true})
	}
	return options
}
