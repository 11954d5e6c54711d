package registry

// Location is one of the fixed districts of the Bazaar. Agents occupy
// exactly one; trades require being where the goods are.
type Location string

const (
	GrandBazaar   Location = "grand-bazaar"
	Docks         Location = "docks"
	Undercroft    Location = "undercroft"
	TempleRow     Location = "temple-row"
	GildedQuarter Location = "gilded-quarter"
)

// Locations lists every district in a stable order.
func Locations() []Location {
	return []Location{GrandBazaar, Docks, Undercroft, TempleRow, GildedQuarter}
}

// ValidLocation reports whether s names a known district.
func ValidLocation(s string) bool {
	for _, l := range Locations() {
		if string(l) == s {
			return true
		}
	}
	return false
}
