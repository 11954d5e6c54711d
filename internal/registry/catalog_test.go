package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commodities.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
commodities:
  - slug: silk
    name: Samarkand Silk
    base_price: "12.50"
    volatility: 1.2
  - slug: fish
    name: River Fish
    base_price: "3.00"
    volatility: 0.8
    perishable: true
    decay_rate: 0.05
`)

	got, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d commodities, want 2", len(got))
	}

	silk := got[0]
	if silk.Slug != "silk" || silk.DisplayName != "Samarkand Silk" {
		t.Fatalf("silk entry: %+v", silk)
	}
	// Seeds start at base price with no supply.
	if silk.CurrentPrice != silk.BasePrice || silk.CurrentPrice != "12.50" {
		t.Fatalf("silk prices: base=%s current=%s", silk.BasePrice, silk.CurrentPrice)
	}
	if silk.Supply != 0 {
		t.Fatalf("silk supply = %d", silk.Supply)
	}

	fish := got[1]
	if !fish.Perishable || fish.DecayRate != 0.05 {
		t.Fatalf("fish perishability: %+v", fish)
	}
}

func TestLoadCatalogRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing file": filepath.Join(t.TempDir(), "nope.yaml"),
		"empty list":   writeCatalog(t, "commodities: []\n"),
		"no slug": writeCatalog(t, `
commodities:
  - name: Nameless
    base_price: "1.00"
`),
		"bad price": writeCatalog(t, `
commodities:
  - slug: junk
    name: Junk
    base_price: "free"
`),
		"zero price": writeCatalog(t, `
commodities:
  - slug: junk
    name: Junk
    base_price: "0.00"
`),
	}
	for name, path := range cases {
		if _, err := LoadCatalog(path); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}
