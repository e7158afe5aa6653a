package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrich(t *testing.T) {
	m := Message{"event": "pageview", "path": "/home"}
	m.Enrich()

	require.NotEmpty(t, m.ID())
	require.NotEmpty(t, m.Time())

	// Timestamp parses in the documented layout and is UTC "now"
	ts, err := time.Parse(TimeLayout, m.Time())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, 5*time.Second)

	// Caller-supplied fields survive enrichment
	assert.Equal(t, "pageview", m["event"])
	assert.Equal(t, "/home", m["path"])
}

func TestEnrichUniqueAndOrdered(t *testing.T) {
	a := New()
	a.Enrich()
	b := New()
	b.Enrich()

	assert.NotEqual(t, a.ID(), b.ID())

	// String comparison works because the layout is lexicographically ordered
	assert.LessOrEqual(t, a.Time(), b.Time())
}

func TestEnrichOverwritesReservedFields(t *testing.T) {
	m := Message{FieldID: "spoofed", FieldTime: "1999-01-01 00:00:00.000000"}
	m.Enrich()

	assert.NotEqual(t, "spoofed", m.ID())
	assert.NotEqual(t, "1999-01-01 00:00:00.000000", m.Time())
}

func TestEncodeDecode(t *testing.T) {
	m := Message{
		"event": "click",
		"nested": map[string]any{
			"depth": map[string]any{"unbounded": true},
		},
	}
	m.Enrich()

	data, err := m.Encode()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.ID(), back.ID())
	assert.Equal(t, "click", back["event"])
}

func TestEncodeUnserializable(t *testing.T) {
	m := Message{"bad": make(chan int)}
	_, err := m.Encode()
	require.Error(t, err)
}
