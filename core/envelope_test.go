package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_Shapes(t *testing.T) {
	t.Run("map", func(t *testing.T) {
		env := NewEnvelope(map[string]any{"a": 1})
		sr, ok := env.(StructuredResult)
		require.True(t, ok)
		assert.Equal(t, 1, sr.Fields["a"])
	})

	t.Run("json string", func(t *testing.T) {
		env := NewEnvelope(`{"result_count": 2}`)
		fields, ok := StructuredFields(env)
		require.True(t, ok)
		assert.Equal(t, 2.0, fields["result_count"])
	})

	t.Run("plain string", func(t *testing.T) {
		env := NewEnvelope("hello")
		raw, ok := env.(RawResult)
		require.True(t, ok)
		assert.Equal(t, "hello", raw.Blocks[0].Text)
		_, ok = StructuredFields(env)
		assert.False(t, ok)
	})

	t.Run("content blocks with json", func(t *testing.T) {
		env := NewEnvelope([]ContentBlock{{Type: "text", Text: `{"a":`}, {Type: "image", URI: "x"}, {Type: "text", Text: `"b"}`}})
		fields, ok := StructuredFields(env)
		require.True(t, ok)
		assert.Equal(t, "b", fields["a"])
	})

	t.Run("error", func(t *testing.T) {
		env := NewEnvelope(errors.New("boom"))
		er, ok := IsError(env)
		require.True(t, ok)
		assert.Equal(t, KindExecutionFault, er.Kind)
		assert.Equal(t, "boom", er.Message)
	})

	t.Run("typed error keeps kind", func(t *testing.T) {
		env := NewEnvelope(NewError(KindAdmissionRejected, "admission", "quota exceeded"))
		er, ok := IsError(env)
		require.True(t, ok)
		assert.Equal(t, KindAdmissionRejected, er.Kind)
	})

	t.Run("struct", func(t *testing.T) {
		env := NewEnvelope(struct {
			Count int `json:"result_count"`
		}{Count: 4})
		fields, ok := StructuredFields(env)
		require.True(t, ok)
		assert.Equal(t, 4.0, fields["result_count"])
	})

	t.Run("nil", func(t *testing.T) {
		fields, ok := StructuredFields(NewEnvelope(nil))
		require.True(t, ok)
		assert.Empty(t, fields)
	})
}

func TestStructuredFields_ErrorResultIsIneligible(t *testing.T) {
	_, ok := StructuredFields(ErrorResult{Kind: KindExecutionFault})
	assert.False(t, ok)
}

func TestError_IsMatchesKind(t *testing.T) {
	err := NewError(KindMissingCredential, "credential.resolve", "access_key not found")
	wrapped := errors.Join(errors.New("context"), err)

	assert.ErrorIs(t, wrapped, ErrMissingCredential)
	assert.NotErrorIs(t, wrapped, ErrExecutionFault)
	assert.True(t, IsFatal(wrapped))
	assert.Equal(t, KindMissingCredential, KindOf(wrapped))
	assert.Contains(t, err.Error(), "credential.resolve")

	assert.False(t, IsFatal(errors.New("plain")))
	assert.True(t, KindAdmissionRejected.Fatal())
	assert.False(t, KindExecutionFault.Fatal())
}

func TestRequest_CloneIsIndependent(t *testing.T) {
	req := NewRequest("s1", "tool", map[string]any{"a": 1})
	req.ProviderConfig["env"] = map[string]any{"K": "V"}
	req.Context["access_key"] = "secret"

	c := req.Clone()
	c.Args["a"] = 2
	c.Context["access_key"] = "other"
	c.ProviderConfig["env"].(map[string]any)["K"] = "changed"

	assert.Equal(t, 1, req.Args["a"])
	assert.Equal(t, "secret", req.Context["access_key"])
	assert.Equal(t, "V", req.ProviderConfig["env"].(map[string]any)["K"])
	assert.Equal(t, req.ID, c.ID)
	assert.Equal(t, "tool", req.Describe().ToolID)
}
