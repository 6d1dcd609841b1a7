package normalize

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/artifact"
	"github.com/hupe1980/toolmesh/core"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNormalize_ExpandsArchive(t *testing.T) {
	store := artifact.NewInMemoryStore("https://cdn.example.com")
	store.Put("https://store.example.com/jobs/42/bundle.zip", buildZip(t, map[string]string{
		"out/a.cif":  "A",
		"out/b.txt":  "B",
		"result_url": "clash",
		"out/":       "",
	}))

	n := New(store, Config{})
	env := core.StructuredResult{Fields: map[string]any{
		"result_count": 2,
		"result_url":   "https://store.example.com/jobs/42/bundle.zip",
	}}

	out, urls := n.Normalize(context.Background(), "s1", env)

	fields, ok := core.StructuredFields(out)
	require.True(t, ok)
	assert.Equal(t, "https://store.example.com/jobs/42/bundle.zip", fields["result_url"])
	assert.Equal(t, "https://cdn.example.com/s1/bundle/a.cif", fields["a.cif"])
	assert.Equal(t, "https://cdn.example.com/s1/bundle/b.txt", fields["b.txt"])
	assert.Equal(t, 2, fields["result_count"])
	assert.Len(t, urls, 3)
	assert.Contains(t, urls, "https://cdn.example.com/s1/bundle/result_url")

	data, err := store.Download(context.Background(), "https://cdn.example.com/s1/bundle/a.cif")
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))

	// the input envelope is not mutated
	assert.Len(t, env.Fields, 2)
}

func TestNormalize_PassThroughCases(t *testing.T) {
	store := artifact.NewInMemoryStore("")
	n := New(store, Config{})
	ctx := context.Background()

	plain := core.StructuredResult{Fields: map[string]any{"url": "http://insecure/bundle.zip", "other": "https://x/file.csv"}}
	out, urls := n.Normalize(ctx, "s1", plain)
	assert.Equal(t, plain, out)
	assert.Empty(t, urls)

	failure := core.ErrorResult{Kind: core.KindExecutionFault, Message: "x"}
	out, _ = n.Normalize(ctx, "s1", failure)
	assert.Equal(t, failure, out)

	raw := core.RawResult{Blocks: []core.ContentBlock{{Type: "text", Text: "not json"}}}
	out, _ = n.Normalize(ctx, "s1", raw)
	assert.Equal(t, raw, out)
}

func TestNormalize_RawJSONEnvelope(t *testing.T) {
	store := artifact.NewInMemoryStore("https://cdn")
	store.Put("https://s/r.zip", buildZip(t, map[string]string{"x.csv": "1"}))
	n := New(store, Config{})

	raw := core.RawResult{Blocks: []core.ContentBlock{{Type: "text", Text: `{"archive":"https://s/r.zip"}`}}}
	out, urls := n.Normalize(context.Background(), "s1", raw)

	assert.Equal(t, core.StructuredResult{Fields: map[string]any{
		"archive": "https://s/r.zip",
		"x.csv":   "https://cdn/s1/r/x.csv",
	}}, out)
	assert.Equal(t, []string{"https://cdn/s1/r/x.csv"}, urls)
}

func TestNormalize_FailuresPassThrough(t *testing.T) {
	store := artifact.NewInMemoryStore("")
	store.Put("https://s/corrupt.zip", []byte("not a zip"))
	n := New(store, Config{})
	ctx := context.Background()

	for _, url := range []string{"https://s/missing.zip", "https://s/corrupt.zip"} {
		env := core.StructuredResult{Fields: map[string]any{"u": url}}
		out, urls := n.Normalize(ctx, "s1", env)
		assert.Equal(t, env, out)
		assert.Empty(t, urls)
	}
}

func TestNormalize_Converter(t *testing.T) {
	store := artifact.NewInMemoryStore("https://cdn")
	store.Put("https://s/pack.ZIP?sig=1", buildZip(t, map[string]string{"a.cif": "abc", "b.log": "skip"}))

	upper := ConverterFunc(func(name string, data []byte) (string, []byte, bool, error) {
		if !strings.HasSuffix(name, ".cif") {
			return "", nil, false, nil
		}
		return strings.TrimSuffix(name, ".cif") + ".pdb", bytes.ToUpper(data), true, nil
	})
	n := New(store, Config{ArchiveExt: "zip"}, WithConverter(upper))

	out, urls := n.Normalize(context.Background(), "s1", core.StructuredResult{Fields: map[string]any{"u": "https://s/pack.ZIP?sig=1"}})
	fields, _ := core.StructuredFields(out)
	assert.Equal(t, "https://cdn/s1/pack/a.pdb", fields["a.pdb"])
	assert.Equal(t, []string{"https://cdn/s1/pack/a.pdb"}, urls)

	data, err := store.Download(context.Background(), "https://cdn/s1/pack/a.pdb")
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(data))

	failing := New(store, Config{}, WithConverter(ConverterFunc(func(string, []byte) (string, []byte, bool, error) {
		return "", nil, false, errors.New("bad member")
	})))
	env := core.StructuredResult{Fields: map[string]any{"u": "https://s/pack.ZIP?sig=1"}}
	out, _ = failing.Normalize(context.Background(), "s1", env)
	assert.Equal(t, env, out)
}

func TestPassThrough(t *testing.T) {
	c := PassThrough(".CSV")
	name, data, ok, err := c.Convert("dir/x.csv", []byte("1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x.csv", name)
	assert.Equal(t, "1", string(data))

	_, _, ok, _ = c.Convert("x.txt", nil)
	assert.False(t, ok)
}
