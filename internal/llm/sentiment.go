// Market sentiment — a smooth pseudo-random field over (commodity, tick)
// that gives the chronicle coherent omens instead of uncorrelated
// coin flips. Sentiment is pure decoration; the engine's price noise
// stays independent per tick.
package llm

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// SentimentField samples simplex noise to rate the mood around each
// commodity over time.
type SentimentField struct {
	noise opensimplex.Noise
}

// NewSentimentField seeds the field. The same seed yields the same omens.
func NewSentimentField(seed int64) *SentimentField {
	return &SentimentField{noise: opensimplex.New(seed)}
}

// At returns the sentiment for a commodity index at a tick, in [-1, 1].
// Neighboring ticks move smoothly; distinct commodities drift apart.
func (f *SentimentField) At(commodityIndex int, tick int64) float64 {
	return f.noise.Eval2(float64(commodityIndex)*17.31, float64(tick)*0.05)
}

// Omen translates a sentiment value into chronicle language.
func Omen(v float64) string {
	switch {
	case v > 0.5:
		return "auspicious"
	case v > 0.15:
		return "hopeful"
	case v > -0.15:
		return "uncertain"
	case v > -0.5:
		return "uneasy"
	default:
		return "ill-omened"
	}
}
