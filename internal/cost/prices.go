package cost

// DefaultTable is a small built-in price table covering a handful of
// widely available OpenAI-compatible chat-completion models, so a fresh
// install has reasonable defaults before any config override is loaded.
// Per spec.md §9's open question, this is treated as pure configuration,
// not a hard-coded roster the engine depends on — a table read with
// LoadTable is layered over it via Merge (entries for the same model
// replace the defaults), and any model absent from both simply prices at $0.
var DefaultTable = Table{
	"gpt-4o":          {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":     {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4-turbo":     {InputPerMillion: 10.00, OutputPerMillion: 30.00},
	"gpt-3.5-turbo":   {InputPerMillion: 0.50, OutputPerMillion: 1.50},
	"llama-3.1-70b":   {InputPerMillion: 0.35, OutputPerMillion: 0.40},
	"llama-3.1-8b":    {InputPerMillion: 0.05, OutputPerMillion: 0.08},
	"mixtral-8x7b":    {InputPerMillion: 0.24, OutputPerMillion: 0.24},
	"deepseek-chat":   {InputPerMillion: 0.14, OutputPerMillion: 0.28},
	"qwen2.5-72b":     {InputPerMillion: 0.35, OutputPerMillion: 0.40},
}

// Merge returns a new Table with override's entries layered on top of
// the receiver's, so a partial external price file only needs to list
// the models it wants to change.
func (t Table) Merge(override Table) Table {
	out := make(Table, len(t)+len(override))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
