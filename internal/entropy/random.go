// Package entropy supplies the uniform randomness behind price noise and
// world-event rolls. Production draws from random.org with a local pool,
// falling back to crypto/rand when the API is unavailable; tests inject a
// fixed sequence through the Source interface.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Source yields uniform floats in [0, 1). Every stochastic decision in the
// engine flows through an injected Source so tests can pin outcomes.
type Source interface {
	Float() float64
}

// Intn returns a uniform integer in [0, n) drawn from src.
func Intn(src Source, n int) int {
	if n <= 0 {
		return 0
	}
	i := int(src.Float() * float64(n))
	if i >= n { // Float() can be arbitrarily close to 1.
		i = n - 1
	}
	return i
}

// Between returns a uniform float in [lo, hi) drawn from src.
func Between(src Source, lo, hi float64) float64 {
	return lo + src.Float()*(hi-lo)
}

// Client provides true random numbers from random.org with a local pool.
type Client struct {
	apiKey string
	client *http.Client

	mu   sync.Mutex
	pool []float64
}

// NewClient creates a random.org client. Returns nil if apiKey is empty;
// a nil Client still satisfies Source via crypto/rand.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Float returns a random float64 in [0, 1). Uses the pool, refilling from
// random.org when low. Falls back to crypto/rand on API failure.
func (c *Client) Float() float64 {
	if c == nil {
		return cryptoFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < 10 {
		c.refill()
	}

	if len(c.pool) == 0 {
		return cryptoFloat()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

func (c *Client) refill() {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateDecimalFractions",
		"params": map[string]any{
			"apiKey":        c.apiKey,
			"n":             100,
			"decimalPlaces": 6,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.Debug("random.org marshal failed", "error", err)
		return
	}

	resp, err := c.client.Post("https://api.random.org/json-rpc/4/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Debug("random.org fetch failed", "error", err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("random.org read failed", "error", err)
		return
	}

	var result struct {
		Result struct {
			Random struct {
				Data []float64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		slog.Debug("random.org parse failed", "error", err)
		return
	}

	if result.Error != nil {
		slog.Debug("random.org API error", "error", result.Error.Message)
		return
	}

	c.pool = append(c.pool, result.Result.Random.Data...)
	slog.Debug("random.org pool refilled", "count", len(result.Result.Random.Data))
}

// Crypto is a Source backed purely by crypto/rand.
type Crypto struct{}

// Float returns a uniform float64 in [0, 1) from crypto/rand.
func (Crypto) Float() float64 { return cryptoFloat() }

func cryptoFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// Should never happen; 0.5 is a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

// Fixed is a deterministic Source cycling through a fixed sequence.
// The zero value yields 0.5 forever.
type Fixed struct {
	Values []float64
	i      int
}

// Float returns the next value in the sequence, cycling at the end.
func (f *Fixed) Float() float64 {
	if len(f.Values) == 0 {
		return 0.5
	}
	v := f.Values[f.i%len(f.Values)]
	f.i++
	return v
}
