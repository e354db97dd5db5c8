package resilience_test

import (
	"slices"
	"testing"

	"github.com/alnah/go-fabric-analyze/internal/resilience"
)

func TestCatalog_Resolve(t *testing.T) {
	t.Parallel()

	c := resilience.DefaultCatalog()
	tests := []struct {
		in, want string
	}{
		{"kimi", "moonshotai/kimi-k2-instruct-0905"},
		{"llama-8b", "llama-3.1-8b-instant"},
		{"llama-3.3-70b-versatile", "llama-3.3-70b-versatile"},
		{"custom/model", "custom/model"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := c.Resolve(tt.in); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCatalog_TPM(t *testing.T) {
	t.Parallel()

	c := resilience.DefaultCatalog()
	tests := []struct {
		in   string
		want int
	}{
		{"llama-4-scout", 30000},
		{"openai/gpt-oss-120b", 8000},
		{"kimi-k2", 10000}, // substring of the full id
		{"unknown", resilience.DefaultTPM},
		{"", resilience.DefaultTPM},
	}
	for _, tt := range tests {
		if got := c.TPM(tt.in); got != tt.want {
			t.Errorf("TPM(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCatalog_Chain(t *testing.T) {
	t.Parallel()

	c := resilience.DefaultCatalog()
	got := c.Chain("llama-8b", "kimi", " llama-70b ", "kimi", "", "qwen3")
	want := []string{
		"llama-3.3-70b-versatile",
		"moonshotai/kimi-k2-instruct-0905",
		"llama-3.1-8b-instant",
		"qwen/qwen3-32b",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Chain() = %v, want %v", got, want)
	}
}

func TestCatalog_Nil(t *testing.T) {
	t.Parallel()

	var c *resilience.Catalog
	if got := c.Resolve("kimi"); got != "kimi" {
		t.Errorf("nil Resolve = %q, want passthrough", got)
	}
	if c.Models() != nil {
		t.Error("nil Models() != nil")
	}
	if got := c.TPM("kimi"); got != resilience.DefaultTPM {
		t.Errorf("nil TPM = %d", got)
	}
}

func TestCatalog_ModelsIsCopy(t *testing.T) {
	t.Parallel()

	c := resilience.DefaultCatalog()
	ms := c.Models()
	ms[0].ID = "changed"
	if c.Resolve("llama-4-scout") == "changed" {
		t.Error("Models() exposed internal slice")
	}
}
