package registry

// Agent is a trader in the Bazaar, human- or AI-driven. Agents are never
// deleted; a jailed agent carries a release timestamp cleared by the
// tick engine's jail sweep.
type Agent struct {
	ID             string  `db:"id" json:"id"`
	Name           string  `db:"name" json:"name"`
	Location       string  `db:"location" json:"location"`
	Balance        string  `db:"balance" json:"balance"`
	Reputation     int64   `db:"reputation" json:"reputation"`
	CultID         *string `db:"cult_id" json:"cult_id,omitempty"`
	JailedUntil    *int64  `db:"jailed_until" json:"jailed_until,omitempty"`
	LastActionTick int64   `db:"last_action_tick" json:"last_action_tick"`
	CreatedAt      int64   `db:"created_at" json:"created_at"`
}

// Jailed reports whether the agent is behind bars at unix time now.
func (a Agent) Jailed(now int64) bool {
	return a.JailedUntil != nil && *a.JailedUntil > now
}

// InventoryEntry is one (agent, commodity, counterfeit) holding. Genuine
// and counterfeit units of the same commodity live in separate rows so
// the counterfeit ratio stays representable; rows are deleted when
// quantity reaches zero.
type InventoryEntry struct {
	AgentID       string `db:"agent_id" json:"agent_id"`
	CommoditySlug string `db:"commodity_slug" json:"commodity_slug"`
	Counterfeit   bool   `db:"counterfeit" json:"counterfeit"`
	Quantity      string `db:"quantity" json:"quantity"`
}

// Offer is an open sell order. Accepting settles both parties in a
// single transaction.
type Offer struct {
	ID            string `db:"id" json:"id"`
	SellerID      string `db:"seller_id" json:"seller_id"`
	CommoditySlug string `db:"commodity_slug" json:"commodity_slug"`
	Counterfeit   bool   `db:"counterfeit" json:"counterfeit"`
	Quantity      string `db:"quantity" json:"quantity"`
	Price         string `db:"price" json:"price"` // total asking price
	Status        string `db:"status" json:"status"`
	CreatedAt     int64  `db:"created_at" json:"created_at"`
}

// Offer statuses.
const (
	OfferOpen     = "open"
	OfferAccepted = "accepted"
	OfferRevoked  = "revoked"
)
