package registry

// Cult is a faction of agents with a shared treasury and ritual
// capability. Influence decays toward zero every tick; the top-influence
// cult is snapshotted as the ruling cult. A cult is deleted when its
// member count drops to zero.
type Cult struct {
	ID          string  `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Doctrine    string  `db:"doctrine" json:"doctrine"`
	FounderID   string  `db:"founder_id" json:"founder_id"`
	Treasury    string  `db:"treasury" json:"treasury"`
	Influence   int64   `db:"influence" json:"influence"`
	TitheRate   float64 `db:"tithe_rate" json:"tithe_rate"`
	MemberCount int64   `db:"member_count" json:"member_count"`
	AtWarWith   *string `db:"at_war_with" json:"at_war_with,omitempty"`
	CreatedAt   int64   `db:"created_at" json:"created_at"`
}

// Ritual is a quorum-gated group action. Lifecycle: created pending with
// its first participant, joined until quorum, then completed; a sweep
// expires any pending ritual past its deadline. At most one pending
// ritual per (cult, type) exists at a time.
type Ritual struct {
	ID           string  `db:"id" json:"id"`
	CultID       string  `db:"cult_id" json:"cult_id"`
	Type         string  `db:"type" json:"type"`
	Target       *string `db:"target" json:"target,omitempty"`
	Required     int64   `db:"required" json:"required"`
	Status       string  `db:"status" json:"status"`
	ExpiresAt    int64   `db:"expires_at" json:"expires_at"`
	CreatedTick  int64   `db:"created_tick" json:"created_tick"`
	Participants int64   `db:"participants" json:"participants"`
}

// Ritual types.
const (
	RitualMarketManipulation = "market-manipulation"
	RitualExcommunication    = "excommunication"
	RitualSummoning          = "summoning"
)

// ValidRitualType reports whether s names a known ritual type.
func ValidRitualType(s string) bool {
	switch s {
	case RitualMarketManipulation, RitualExcommunication, RitualSummoning:
		return true
	}
	return false
}

// Ritual statuses.
const (
	RitualPending   = "pending"
	RitualCompleted = "completed"
	RitualExpired   = "expired"
)
