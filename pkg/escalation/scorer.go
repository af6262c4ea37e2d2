// Package escalation tracks a decaying activity score per named hotspot,
// derived from correlated news and incident matches. The scorer owns no
// timers and does no I/O; the host drives it once per data refresh cycle.
package escalation

import "math"

// Level buckets a score for visual encoding.
type Level string

const (
	LevelLow      Level = "low"
	LevelElevated Level = "elevated"
	LevelHigh     Level = "high"
)

// Score thresholds for the levels. Fixed by the product, not configuration.
const (
	elevatedThreshold = 2.0
	highThreshold     = 4.0
)

// Config holds the empirically chosen scoring constants. Treat them as values
// to preserve, not to re-derive.
type Config struct {
	Floor            float64 // resting score, decay target
	Max              float64 // score clamp ceiling
	MatchGain        float64 // weight on log2(1+matchCount)
	VelocityGain     float64 // weight on matches-per-hour velocity
	VelocityCap      float64 // velocity saturates here
	BreakingBonus    float64 // flat bonus when a breaking item matched
	DecayQuietCycles int     // quiet cycles before decay starts
	DecayFactor      float64 // multiplicative decay per quiet cycle
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		Floor:            0,
		Max:              10,
		MatchGain:        0.8,
		VelocityGain:     0.5,
		VelocityCap:      4,
		BreakingBonus:    1.5,
		DecayQuietCycles: 2,
		DecayFactor:      0.65,
	}
}

type hotspotState struct {
	score    float64
	quiet    int
	breaking bool
}

// Scorer maintains one independent state machine per hotspot id.
// Not safe for concurrent use; the composer serializes access.
type Scorer struct {
	cfg    Config
	states map[string]*hotspotState
}

// NewScorer creates a scorer with the given constants.
func NewScorer(cfg Config) *Scorer {
	if cfg.Max <= cfg.Floor {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg, states: make(map[string]*hotspotState)}
}

// RecordMatch feeds one refresh cycle's correlation result for a hotspot.
// matchCount and velocity raise the score monotonically; a cycle with zero
// matches counts toward decay, which kicks in after DecayQuietCycles and
// pulls the score back toward the floor.
func (s *Scorer) RecordMatch(hotspotID string, matchCount int, hasBreaking bool, velocity float64) {
	st := s.states[hotspotID]
	if st == nil {
		st = &hotspotState{score: s.cfg.Floor}
		s.states[hotspotID] = st
	}

	if matchCount <= 0 {
		st.quiet++
		st.breaking = false
		if st.quiet >= s.cfg.DecayQuietCycles {
			st.score = s.cfg.Floor + (st.score-s.cfg.Floor)*s.cfg.DecayFactor
			if st.score-s.cfg.Floor < 0.1 {
				st.score = s.cfg.Floor
			}
		}
		return
	}

	gain := s.cfg.MatchGain * math.Log2(1+float64(matchCount))
	gain += s.cfg.VelocityGain * math.Min(velocity, s.cfg.VelocityCap)
	if hasBreaking {
		gain += s.cfg.BreakingBonus
	}

	st.score += gain
	if st.score > s.cfg.Max {
		st.score = s.cfg.Max
	}
	st.quiet = 0
	st.breaking = hasBreaking
}

// Score returns the current score for a hotspot; unknown ids read the floor.
func (s *Scorer) Score(hotspotID string) float64 {
	if st := s.states[hotspotID]; st != nil {
		return st.score
	}
	return s.cfg.Floor
}

// Level returns the current escalation level for a hotspot.
func (s *Scorer) Level(hotspotID string) Level {
	return LevelForScore(s.Score(hotspotID))
}

// HasBreaking reports whether the hotspot's latest cycle carried a breaking
// match. Cleared by the next quiet cycle.
func (s *Scorer) HasBreaking(hotspotID string) bool {
	if st := s.states[hotspotID]; st != nil {
		return st.breaking
	}
	return false
}

// Reset drops all hotspot state, returning every score to the floor.
func (s *Scorer) Reset() {
	s.states = make(map[string]*hotspotState)
}

// LevelForScore maps a score to its level using the fixed thresholds.
func LevelForScore(score float64) Level {
	switch {
	case score >= highThreshold:
		return LevelHigh
	case score >= elevatedThreshold:
		return LevelElevated
	default:
		return LevelLow
	}
}
