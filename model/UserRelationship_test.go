package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRelationshipSides(t *testing.T) {
	r := NewUserRelationship(3, 8)
	require.NotNil(t, r.Alive)
	assert.True(t, *r.Alive)
	assert.False(t, r.IsMutual())

	r.SetRemark(false, "low")
	assert.Equal(t, "low", r.RemarkOf(false))
	assert.Empty(t, r.RemarkOf(true))
	assert.False(t, r.IsMutual())

	r.SetRemark(true, "high")
	assert.True(t, r.IsMutual())
	assert.False(t, r.IsCompleted())

	assert.Equal(t, uint64(8), r.Other(3))
	assert.Equal(t, uint64(3), r.Other(8))
}

func TestNewCompletionMarker(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	raw := NewCompletionMarker(3, 8, at)

	var m CompletionMarker
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, CompletionMarker{NotifiedTo: 3, By: 8, NotifiedAt: 1700000000123}, m)

	r := NewUserRelationship(3, 8)
	r.CompletedLow = raw
	assert.True(t, r.IsCompleted())
}
