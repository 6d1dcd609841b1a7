package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestResolve(t *testing.T) {
	produced := []string{
		"https://store/x/out/demo.cif",
		"https://store/x/out/other/demo.cif",
		"https://store/x/out/report.csv",
	}

	tests := []struct {
		name    string
		claimed string
		want    string
	}{
		{"suffix match", "demo.cif", "https://store/x/out/demo.cif"},
		{"substring match", "out/report", "https://store/x/out/report.csv"},
		{"external url kept", "https://elsewhere/demo.cif", "https://elsewhere/demo.cif"},
		{"http url kept", "http://host/a", "http://host/a"},
		{"no match unchanged", "missing.txt", "missing.txt"},
		{"empty unchanged", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.claimed, produced))
		})
	}
}

func TestResolve_FabricatedFileName(t *testing.T) {
	got := Resolve("demo.cif", []string{"https://store/x/out/demo.cif"})
	assert.Equal(t, "https://store/x/out/demo.cif", got)
}

func TestResolve_FirstMatchWins(t *testing.T) {
	produced := []string{"https://a/run1/result.json", "https://a/run2/result.json"}
	assert.Equal(t, produced[0], Resolve("result.json", produced))
}

func TestResolve_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alphabet := rapid.SampledFrom([]string{"a", "b", "/", ".", "x", "https://", "c.cif"})
		word := rapid.Custom(func(t *rapid.T) string {
			parts := rapid.SliceOfN(alphabet, 0, 6).Draw(t, "parts")
			out := ""
			for _, p := range parts {
				out += p
			}
			return out
		})
		produced := rapid.SliceOfN(word, 0, 5).Draw(t, "produced")
		claimed := word.Draw(t, "claimed")

		once := Resolve(claimed, produced)
		twice := Resolve(once, produced)
		if once != twice {
			t.Fatalf("resolve not idempotent: %q -> %q -> %q (produced %q)", claimed, once, twice, produced)
		}
	})
}

func TestResolver_ResolveArgs(t *testing.T) {
	r := NewResolver(nil)
	args := map[string]any{
		"input_file": "demo.cif",
		"other":      "demo.cif",
		"count":      3,
		"url":        "https://ext/file",
	}
	changed := r.ResolveArgs(args, []string{"input_file", "count", "url", "absent"}, []string{"https://store/x/out/demo.cif"})

	assert.Equal(t, 1, changed)
	assert.Equal(t, "https://store/x/out/demo.cif", args["input_file"])
	assert.Equal(t, "demo.cif", args["other"])
	assert.Equal(t, "https://ext/file", args["url"])
}
