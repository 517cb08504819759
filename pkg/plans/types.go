package plans

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Slug identifies the family a plan belongs to
type Slug string

const (
	SlugFree      Slug = "free"
	SlugEssential Slug = "essential"
	SlugComplete  Slug = "complete"
)

// Rank orders plan families. Higher is better.
type Rank int

const (
	RankUnknown   Rank = 0
	RankFree      Rank = 1
	RankEssential Rank = 2
	RankComplete  Rank = 3
)

var rankTable = map[Slug]Rank{
	SlugFree:      RankFree,
	SlugEssential: RankEssential,
	SlugComplete:  RankComplete,
}

// RankOf returns the rank for a slug, RankUnknown if the slug is not recognised
func RankOf(slug Slug) Rank {
	return rankTable[slug]
}

// Plan is a billing tier family
type Plan struct {
	ID         string           `json:"id" yaml:"id"`
	Slug       Slug             `json:"slug" yaml:"slug"`
	Name       string           `json:"name" yaml:"name"`
	Price      decimal.Decimal  `json:"price"`
	PromoPrice *decimal.Decimal `json:"promo_price,omitempty"`
	Benefits   []string         `json:"benefits,omitempty"`
	// Allowance is the automated-billing allowance granted by the plan itself.
	// Tiers override it for the complete plan.
	Allowance int `json:"allowance"`
	// PassengerLimit caps total passengers, free plan only.
	PassengerLimit *int `json:"passenger_limit,omitempty"`
	Active         bool `json:"active"`
}

// Rank returns the plan's rank
func (p Plan) Rank() Rank {
	return RankOf(p.Slug)
}

// EffectivePrice returns the promotional price when present, otherwise the flat price
func (p Plan) EffectivePrice() decimal.Decimal {
	if p.PromoPrice != nil {
		return *p.PromoPrice
	}
	return p.Price
}

// Tier is a capacity variant of the complete plan
type Tier struct {
	ID         string           `json:"id"`
	PlanID     string           `json:"plan_id"`
	Allowance  int              `json:"allowance"`
	Price      decimal.Decimal  `json:"price"`
	PromoPrice *decimal.Decimal `json:"promo_price,omitempty"`
	Active     bool             `json:"active"`
}

// EffectivePrice returns the promotional price when present, otherwise the flat price
func (t Tier) EffectivePrice() decimal.Decimal {
	if t.PromoPrice != nil {
		return *t.PromoPrice
	}
	return t.Price
}

// ConfigError reports catalog data that cannot be used safely
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "catalog configuration error: " + e.Reason
}

// IsConfigError checks if an error is a catalog configuration error
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
