package plans

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FileSource reads a catalog from a YAML document
//
//	plans:
//	  - id: complete
//	    slug: complete
//	    name: Complete
//	    price: "50.00"
//	tiers:
//	  - id: complete-5
//	    plan_id: complete
//	    allowance: 5
//	    price: "50.00"
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for the given path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the file backing this source
func (s *FileSource) Path() string {
	return s.path
}

type catalogFile struct {
	Plans []planEntry `yaml:"plans"`
	Tiers []tierEntry `yaml:"tiers"`
}

type planEntry struct {
	ID             string   `yaml:"id"`
	Slug           string   `yaml:"slug"`
	Name           string   `yaml:"name"`
	Price          string   `yaml:"price"`
	PromoPrice     string   `yaml:"promo_price"`
	Benefits       []string `yaml:"benefits"`
	Allowance      int      `yaml:"allowance"`
	PassengerLimit *int     `yaml:"passenger_limit"`
	Inactive       bool     `yaml:"inactive"`
}

type tierEntry struct {
	ID         string `yaml:"id"`
	PlanID     string `yaml:"plan_id"`
	Allowance  int    `yaml:"allowance"`
	Price      string `yaml:"price"`
	PromoPrice string `yaml:"promo_price"`
	Inactive   bool   `yaml:"inactive"`
}

// LoadCatalog reads and validates the catalog file
func (s *FileSource) LoadCatalog(ctx context.Context, activeOnly bool) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data, activeOnly)
}

// ParseCatalog decodes a YAML catalog document
func ParseCatalog(data []byte, activeOnly bool) (*Catalog, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	plans := make([]Plan, 0, len(doc.Plans))
	for _, e := range doc.Plans {
		if activeOnly && e.Inactive {
			continue
		}
		price, promo, err := parsePrices(e.Price, e.PromoPrice)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", e.ID, err)
		}
		plans = append(plans, Plan{
			ID:             e.ID,
			Slug:           Slug(e.Slug),
			Name:           e.Name,
			Price:          price,
			PromoPrice:     promo,
			Benefits:       e.Benefits,
			Allowance:      e.Allowance,
			PassengerLimit: e.PassengerLimit,
			Active:         !e.Inactive,
		})
	}

	tiers := make([]Tier, 0, len(doc.Tiers))
	for _, e := range doc.Tiers {
		if activeOnly && e.Inactive {
			continue
		}
		price, promo, err := parsePrices(e.Price, e.PromoPrice)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", e.ID, err)
		}
		tiers = append(tiers, Tier{
			ID:         e.ID,
			PlanID:     e.PlanID,
			Allowance:  e.Allowance,
			Price:      price,
			PromoPrice: promo,
			Active:     !e.Inactive,
		})
	}

	return NewCatalog(plans, tiers)
}

func parsePrices(price, promo string) (decimal.Decimal, *decimal.Decimal, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if promo == "" {
		return p, nil, nil
	}
	pp, err := decimal.NewFromString(promo)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("invalid promo price %q: %w", promo, err)
	}
	return p, &pp, nil
}
