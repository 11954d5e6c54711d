package registry

// World-state keys. The world_state table is a generic key-value store;
// these three keys always exist once the world has ticked.
const (
	KeyTick       = "tick"
	KeyRulingCult = "ruling_cult"
	KeyCurrentLaw = "current_law" // reserved, unused for now
)

// RulingCult is the denormalized snapshot of the top-influence cult,
// rewritten by the tick engine each cycle.
type RulingCult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Influence int64  `json:"influence"`
}

// WorldEvent is one append-only log entry: at most one per tick.
type WorldEvent struct {
	ID          int64  `db:"id" json:"id"`
	Type        string `db:"type" json:"type"`
	Description string `db:"description" json:"description"`
	Effects     string `db:"effects" json:"effects"` // JSON payload
	Tick        int64  `db:"tick" json:"tick"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
}
