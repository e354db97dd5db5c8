package resilience

import (
	"slices"
	"strings"
)

// DefaultTPM is assumed for models the catalog does not know.
const DefaultTPM = 6000

// Model describes one model the pattern tool can target.
type Model struct {
	Alias    string
	ID       string
	TPM      int  // tokens per minute on the provider's free tier
	Thinking bool // emits <think> blocks
}

// Catalog maps short aliases to model ids and throughput. It is an explicit
// value handed to whoever builds fallback chains; there is no global registry.
type Catalog struct {
	models []Model
}

// NewCatalog creates a catalog from models.
func NewCatalog(models ...Model) *Catalog {
	return &Catalog{models: slices.Clone(models)}
}

// DefaultCatalog lists the Groq free-tier models, highest throughput first.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Model{Alias: "llama-4-scout", ID: "meta-llama/llama-4-scout-17b-16e-instruct", TPM: 30000},
		Model{Alias: "llama-guard", ID: "meta-llama/llama-guard-4-12b", TPM: 15000},
		Model{Alias: "llama-70b", ID: "llama-3.3-70b-versatile", TPM: 12000},
		Model{Alias: "kimi", ID: "moonshotai/kimi-k2-instruct-0905", TPM: 10000},
		Model{Alias: "gpt-oss-120b", ID: "openai/gpt-oss-120b", TPM: 8000},
		Model{Alias: "llama-8b", ID: "llama-3.1-8b-instant", TPM: 6000},
		Model{Alias: "qwen3", ID: "qwen/qwen3-32b", TPM: 6000, Thinking: true},
	)
}

// Models returns a copy of the catalog entries.
func (c *Catalog) Models() []Model {
	if c == nil {
		return nil
	}
	return slices.Clone(c.models)
}

// Lookup finds a model by alias or full id.
func (c *Catalog) Lookup(name string) (Model, bool) {
	if c == nil || name == "" {
		return Model{}, false
	}
	for _, m := range c.models {
		if m.Alias == name || m.ID == name {
			return m, true
		}
	}
	return Model{}, false
}

// Resolve turns an alias into its model id. Unknown names pass through.
func (c *Catalog) Resolve(name string) string {
	if m, ok := c.Lookup(name); ok {
		return m.ID
	}
	return name
}

// TPM returns the throughput of a model, matching ids by substring as a
// last resort, and DefaultTPM when nothing matches.
func (c *Catalog) TPM(name string) int {
	if m, ok := c.Lookup(name); ok {
		return m.TPM
	}
	if c != nil && name != "" {
		for _, m := range c.models {
			if strings.Contains(m.ID, name) {
				return m.TPM
			}
		}
	}
	return DefaultTPM
}

// Chain resolves names to ids, drops blanks and duplicates, and orders the
// result by throughput, highest first. Ties keep their given order.
func (c *Catalog) Chain(names ...string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		id := c.Resolve(strings.TrimSpace(n))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return c.TPM(b) - c.TPM(a)
	})
	return out
}
