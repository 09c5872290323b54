package dedupe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arc-self/apps/span-builder/internal/dedupe"
)

func TestStore_ContainsAfterAdd(t *testing.T) {
	s := dedupe.NewStore(10)
	assert.False(t, s.Contains("a"))
	s.Add("a")
	assert.True(t, s.Contains("a"))
}

func TestStore_AddExistingIsNoop(t *testing.T) {
	s := dedupe.NewStore(10)
	s.Add("a")
	s.Add("a")
	assert.Equal(t, 1, s.Len())
}

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	s := dedupe.NewStore(2)
	s.Add("a")
	s.Add("b")
	s.Add("c")

	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Contains("a"), "oldest entry must be evicted")
	assert.True(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
}

func TestStore_ZeroCapacityFallsBackToDefault(t *testing.T) {
	s := dedupe.NewStore(0)
	for i := 0; i < 100; i++ {
		s.Add(string(rune(i)))
	}
	assert.Equal(t, 100, s.Len())
}
