package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreRisesWithActivity(t *testing.T) {
	s := NewScorer(DefaultConfig())

	s.RecordMatch("hormuz", 3, false, 1.0)
	low := s.Score("hormuz")
	require.Greater(t, low, 0.0)

	s2 := NewScorer(DefaultConfig())
	s2.RecordMatch("hormuz", 12, false, 1.0)
	assert.Greater(t, s2.Score("hormuz"), low, "more matches must score higher")

	s3 := NewScorer(DefaultConfig())
	s3.RecordMatch("hormuz", 3, false, 3.5)
	assert.Greater(t, s3.Score("hormuz"), low, "higher velocity must score higher")
}

func TestBreakingBonusAndFlag(t *testing.T) {
	plain := NewScorer(DefaultConfig())
	plain.RecordMatch("taiwan-strait", 2, false, 0.5)

	breaking := NewScorer(DefaultConfig())
	breaking.RecordMatch("taiwan-strait", 2, true, 0.5)

	assert.Greater(t, breaking.Score("taiwan-strait"), plain.Score("taiwan-strait"))
	assert.True(t, breaking.HasBreaking("taiwan-strait"))
	assert.False(t, plain.HasBreaking("taiwan-strait"))

	// The flag clears on the next quiet cycle.
	breaking.RecordMatch("taiwan-strait", 0, false, 0)
	assert.False(t, breaking.HasBreaking("taiwan-strait"))
}

func TestScoreClampedAtMax(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg)
	for i := 0; i < 50; i++ {
		s.RecordMatch("suez", 100, true, 10)
	}
	assert.Equal(t, cfg.Max, s.Score("suez"))
}

func TestQuietCyclesConvergeToFloor(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg)
	s.RecordMatch("kashmir", 20, true, 4)
	require.Equal(t, LevelHigh, s.Level("kashmir"))

	prev := s.Score("kashmir")
	for i := 0; i < 20; i++ {
		s.RecordMatch("kashmir", 0, false, 0)
		cur := s.Score("kashmir")
		assert.LessOrEqual(t, cur, prev, "decay must be monotone")
		prev = cur
	}
	assert.Equal(t, cfg.Floor, s.Score("kashmir"), "score converges to the floor")
	assert.Equal(t, LevelLow, s.Level("kashmir"))
}

func TestDecayWaitsForQuietCycles(t *testing.T) {
	s := NewScorer(DefaultConfig())
	s.RecordMatch("donbas", 5, false, 2)
	before := s.Score("donbas")

	// First quiet cycle is within DecayQuietCycles(2); no decay yet.
	s.RecordMatch("donbas", 0, false, 0)
	assert.Equal(t, before, s.Score("donbas"))

	s.RecordMatch("donbas", 0, false, 0)
	assert.Less(t, s.Score("donbas"), before)
}

func TestLevelThresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{1.99, LevelLow},
		{2, LevelElevated},
		{3.99, LevelElevated},
		{4, LevelHigh},
		{10, LevelHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForScore(tt.score), "score %f", tt.score)
	}
}

func TestUnknownHotspotReadsFloor(t *testing.T) {
	s := NewScorer(DefaultConfig())
	assert.Equal(t, 0.0, s.Score("never-seen"))
	assert.Equal(t, LevelLow, s.Level("never-seen"))
	assert.False(t, s.HasBreaking("never-seen"))
}

func TestResetDropsAllState(t *testing.T) {
	s := NewScorer(DefaultConfig())
	s.RecordMatch("sahel", 9, true, 4)
	require.NotEqual(t, 0.0, s.Score("sahel"))
	s.Reset()
	assert.Equal(t, 0.0, s.Score("sahel"))
}
