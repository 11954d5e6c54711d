// Chronicle generation — turns the event log and market board into the
// Bazaar Herald, the market's broadsheet of record.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChronicleData is the raw material for one Herald issue.
type ChronicleData struct {
	Tick       int64
	RulingCult string

	// Market board with sentiment omens.
	Prices []PriceLine

	// Recent world events, newest first.
	Events []string

	// Cult standings.
	Cults []CultLine
}

// PriceLine is one commodity on the market board.
type PriceLine struct {
	Name      string
	Price     string
	BasePrice string
	Omen      string // from the sentiment field
}

// CultLine is one cult in the standings.
type CultLine struct {
	Name      string
	Influence int64
	AtWar     bool
}

// Chronicle is one generated Herald issue.
type Chronicle struct {
	GeneratedAt time.Time `json:"generated_at"`
	Tick        int64     `json:"tick"`
	Content     string    `json:"content"`
}

// GenerateChronicle writes an issue of the Bazaar Herald. Without a
// working oracle it assembles a plain-text issue from the same data.
func GenerateChronicle(ctx context.Context, c *Client, data *ChronicleData) *Chronicle {
	if !c.Enabled() {
		return &Chronicle{
			GeneratedAt: time.Now(),
			Tick:        data.Tick,
			Content:     fallbackChronicle(data),
		}
	}

	system := bazaarSystem + ` You edit the Bazaar Herald, the market's broadsheet. Write a concise issue (under 400 words): a headline, the market board with its omens, the cult standings, and the week's notable events. Period prose, wry tone.`

	content, err := c.Complete(ctx, system, buildChroniclePrompt(data), 800)
	if err != nil {
		return &Chronicle{
			GeneratedAt: time.Now(),
			Tick:        data.Tick,
			Content:     fallbackChronicle(data),
		}
	}
	return &Chronicle{
		GeneratedAt: time.Now(),
		Tick:        data.Tick,
		Content:     strings.TrimSpace(content),
	}
}

func buildChroniclePrompt(data *ChronicleData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "It is tick %d. ", data.Tick)
	if data.RulingCult != "" {
		fmt.Fprintf(&b, "The ruling cult is %s.\n\n", data.RulingCult)
	} else {
		b.WriteString("No cult holds sway.\n\n")
	}

	if len(data.Prices) > 0 {
		b.WriteString("Market board:\n")
		for _, p := range data.Prices {
			fmt.Fprintf(&b, "- %s: %s (base %s), omens %s\n", p.Name, p.Price, p.BasePrice, p.Omen)
		}
		b.WriteString("\n")
	}

	if len(data.Cults) > 0 {
		b.WriteString("Cult standings:\n")
		for _, cl := range data.Cults {
			war := ""
			if cl.AtWar {
				war = " (at war)"
			}
			fmt.Fprintf(&b, "- %s: influence %d%s\n", cl.Name, cl.Influence, war)
		}
		b.WriteString("\n")
	}

	if len(data.Events) > 0 {
		b.WriteString("Recent events:\n")
		for _, e := range data.Events {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	b.WriteString("\nWrite today's issue of the Bazaar Herald.")
	return b.String()
}

func fallbackChronicle(data *ChronicleData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "THE BAZAAR HERALD — tick %d\n\n", data.Tick)
	if data.RulingCult != "" {
		fmt.Fprintf(&b, "Ruling cult: %s\n\n", data.RulingCult)
	}

	if len(data.Prices) > 0 {
		b.WriteString("MARKET BOARD\n")
		for _, p := range data.Prices {
			fmt.Fprintf(&b, "  %-24s %10s  omens: %s\n", p.Name, p.Price, p.Omen)
		}
		b.WriteString("\n")
	}

	if len(data.Cults) > 0 {
		b.WriteString("CULT STANDINGS\n")
		for _, cl := range data.Cults {
			war := ""
			if cl.AtWar {
				war = "  [AT WAR]"
			}
			fmt.Fprintf(&b, "  %-24s %d%s\n", cl.Name, cl.Influence, war)
		}
		b.WriteString("\n")
	}

	if len(data.Events) > 0 {
		b.WriteString("NOTICES\n")
		for _, e := range data.Events {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}

	return b.String()
}
