package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/bazaar/internal/ledger"
)

// CatalogEntry is one commodity definition from configs/commodities.yaml.
type CatalogEntry struct {
	Slug       string  `yaml:"slug"`
	Name       string  `yaml:"name"`
	BasePrice  string  `yaml:"base_price"`
	Volatility float64 `yaml:"volatility"`
	Perishable bool    `yaml:"perishable"`
	DecayRate  float64 `yaml:"decay_rate"`
}

type catalogFile struct {
	Commodities []CatalogEntry `yaml:"commodities"`
}

// LoadCatalog reads the commodity catalog and returns seed-ready
// commodities (current price starts at base, supply at zero).
func LoadCatalog(path string) ([]Commodity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Commodities) == 0 {
		return nil, fmt.Errorf("catalog %s lists no commodities", path)
	}

	out := make([]Commodity, 0, len(f.Commodities))
	for _, e := range f.Commodities {
		if e.Slug == "" || e.Name == "" {
			return nil, fmt.Errorf("catalog entry missing slug or name: %+v", e)
		}
		base, err := ledger.Parse(e.BasePrice, ledger.MoneyPlaces)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", e.Slug, err)
		}
		if !base.IsPositive() {
			return nil, fmt.Errorf("catalog entry %s: base price must be positive", e.Slug)
		}
		out = append(out, Commodity{
			Slug:         e.Slug,
			DisplayName:  e.Name,
			BasePrice:    base.String(),
			CurrentPrice: base.String(),
			Volatility:   e.Volatility,
			Perishable:   e.Perishable,
			DecayRate:    e.DecayRate,
		})
	}
	return out, nil
}
