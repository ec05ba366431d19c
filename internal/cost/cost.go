// Package cost implements the per-turn and per-session dollar
// accounting the spec's Cost Accountant (C8) requires: a static price
// table keyed by model id, and an accumulator exposed to the front-end
// as /cost. Grounded in provider.Registry.ListAllModels's "log and
// skip unknown" idiom (no direct cost-accounting file exists in the
// teacher); the price table itself is pure data, per spec.md §9's
// instruction not to hard-code a specific model roster.
package cost

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// PriceEntry is the per-million-token price for one model, in dollars.
type PriceEntry struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// Table is a model-id -> PriceEntry lookup. Nil-safe: a zero-value
// Table behaves like an empty one (every model prices at 0).
type Table map[string]PriceEntry

// LoadTable reads a price table from an external JSON file, the
// optional override named by config's Cost.PriceTablePath field. The
// file shape is a flat object: {"model-id": {"input_per_million": ..,
// "output_per_million": ..}, ...}.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// Compute returns the dollar cost of one turn: prompt/1e6 x input price
// plus completion/1e6 x output price. Unknown models price at 0 and log
// a warning, matching the teacher's "log and continue" convention.
func (t Table) Compute(modelID string, promptTokens, completionTokens int) float64 {
	entry, ok := t[modelID]
	if !ok {
		log.Warn().Str("model", modelID).Msg("cost: unknown model, pricing at $0")
		return 0
	}
	return float64(promptTokens)/1e6*entry.InputPerMillion + float64(completionTokens)/1e6*entry.OutputPerMillion
}

// Accountant accumulates token and dollar totals for one session. Safe
// for concurrent use: multiple agent loops sharing a session (or
// coordination substrate) may record turns from independent goroutines.
type Accountant struct {
	mu sync.Mutex

	table Table

	promptTokens     int
	completionTokens int
	totalCost        float64
}

// New creates an Accountant against the given price table. A nil table
// is valid: every turn then costs $0 but token totals still accumulate.
func New(table Table) *Accountant {
	return &Accountant{table: table}
}

// Record folds one turn's usage into the running totals and returns
// that turn's dollar cost.
func (a *Accountant) Record(modelID string, promptTokens, completionTokens int) float64 {
	cost := a.table.Compute(modelID, promptTokens, completionTokens)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.promptTokens += promptTokens
	a.completionTokens += completionTokens
	a.totalCost += cost
	return cost
}

// Totals is a point-in-time snapshot of the accumulator, the shape the
// front-end's /cost command renders.
type Totals struct {
	PromptTokens     int
	CompletionTokens int
	TotalCost        float64
}

// Totals returns the current accumulated totals.
func (a *Accountant) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Totals{
		PromptTokens:     a.promptTokens,
		CompletionTokens: a.completionTokens,
		TotalCost:        a.totalCost,
	}
}

// Reset zeroes the accumulator, used when starting a new session.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.promptTokens, a.completionTokens, a.totalCost = 0, 0, 0
}
