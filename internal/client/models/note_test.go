package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNote_KeyAndIsTemp(t *testing.T) {
	synced := &Note{ID: "7", Slug: "seven"}
	assert.Equal(t, "7", synced.Key())
	assert.False(t, synced.IsTemp())

	draft := &Note{TempID: "temp-1"}
	assert.Equal(t, "temp-1", draft.Key())
	assert.True(t, draft.IsTemp())

	assert.Empty(t, (&Note{}).Key())
}

func TestNote_CloneIsDeep(t *testing.T) {
	n := &Note{ID: "1", Tags: []string{"a", "b"}}
	c := n.Clone()
	c.Tags[0] = "changed"

	assert.Equal(t, "a", n.Tags[0])
	assert.Nil(t, (*Note)(nil).Clone())
}

func TestNote_ApplyKeepsVersion(t *testing.T) {
	n := &Note{ID: "1", Slug: "old", Version: 4}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	n.Apply(Fields{Title: "T", Content: "C", Tags: []string{"x"}}, now)

	assert.Equal(t, int64(4), n.Version)
	assert.Equal(t, "old", n.Slug, "empty slug keeps the existing one")
	assert.Equal(t, "2026-01-02T03:04:05Z", n.UpdatedAt)
	assert.Equal(t, []string{"x"}, n.Tags)
}

func TestNote_SummaryUsesKey(t *testing.T) {
	n := &Note{TempID: "temp-abc", Slug: "temp-abc", Title: "Draft", IsPublic: true}
	s := n.Summary()
	assert.Equal(t, "temp-abc", s.ID)
	assert.Equal(t, "Draft", s.Title)
	assert.True(t, s.IsPublic)
}

func TestNewTempID(t *testing.T) {
	a := NewTempID()
	b := NewTempID()

	require.True(t, IsTempID(a), a)
	require.True(t, IsTempID(b), b)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^temp-[0-9a-f-]{36}$`, a)

	assert.False(t, IsTempID("temp-"))
	assert.False(t, IsTempID("42"))
}

func TestParseTags(t *testing.T) {
	assert.Equal(t, []string{"go", "sync"}, ParseTags(" go, ,sync ,"))
	assert.Nil(t, ParseTags(""))
}
