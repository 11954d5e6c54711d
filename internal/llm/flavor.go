// Flavor text generation — doctrines, prophecies, and event color.
// Always best-effort: failures return the fallback, never an error.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// flavorTimeout bounds every decoration call so a slow oracle can never
// hold up the state change it decorates.
const flavorTimeout = 8 * time.Second

const bazaarSystem = `You are the voice of the Bazaar — a timeless, lamp-lit market city where traders, thieves, and cults contend over fictional commodities. Write short, vivid, in-world prose. Never break character or reference the simulation.`

// Doctrine produces founding scripture for a new cult.
func Doctrine(ctx context.Context, c *Client, cultName, founderName string) string {
	fallback := fmt.Sprintf("The %s keep their teachings to themselves.", cultName)
	if !c.Enabled() {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, flavorTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Write the founding doctrine of a new cult called %q, founded by the trader %s. Two sentences, cryptic and mercantile.",
		cultName, founderName)
	text, err := c.Complete(ctx, bazaarSystem, prompt, 200)
	if err != nil {
		return fallback
	}
	return strings.TrimSpace(text)
}

// Prophecy answers an agent's oracle consultation.
func Prophecy(ctx context.Context, c *Client, agentName, rulingCult string, tick int64) string {
	fallback := "The incense curls, the bones are silent. Come back with better questions."
	if !c.Enabled() {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, flavorTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"The trader %s consults the oracle at tick %d. The ruling cult is %q. Deliver a one-sentence prophecy about their fortunes in the market.",
		agentName, tick, orUnknown(rulingCult))
	text, err := c.Complete(ctx, bazaarSystem, prompt, 120)
	if err != nil {
		return fallback
	}
	return strings.TrimSpace(text)
}

// EventFlavor embellishes a world event's plain description.
func EventFlavor(ctx context.Context, c *Client, eventType, description string) string {
	if !c.Enabled() {
		return description
	}
	ctx, cancel := context.WithTimeout(ctx, flavorTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"A world event of type %q just occurred: %s Rewrite it as one dramatic sentence of market gossip.",
		eventType, description)
	text, err := c.Complete(ctx, bazaarSystem, prompt, 120)
	if err != nil {
		return description
	}
	return strings.TrimSpace(text)
}

func orUnknown(s string) string {
	if s == "" {
		return "no cult at all"
	}
	return s
}
