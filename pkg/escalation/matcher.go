package escalation

import (
	"strings"
	"time"

	"github.com/cloudflare/ahocorasick"
)

// NewsItem is one already-normalized correlated item (headline feed, incident
// report). The matcher only reads it.
type NewsItem struct {
	ID       string
	Headline string
	Breaking bool
	Time     time.Time
}

// MatchStats is the per-hotspot outcome of one scan cycle.
type MatchStats struct {
	Count    int
	Breaking bool
	Velocity float64 // matches per hour inside the velocity window
}

// Matcher correlates headline text against hotspot keyword sets with a single
// Aho-Corasick automaton over all keywords of all hotspots.
type Matcher struct {
	automaton *ahocorasick.Matcher
	owners    []string // keyword index -> hotspot id
	ids       []string // all hotspot ids, scan emits stats for each
	window    time.Duration
}

// KeywordSet names one hotspot's static keywords.
type KeywordSet struct {
	HotspotID string
	Keywords  []string
}

// NewMatcher builds the automaton. Keywords match case-insensitively.
// The velocity window defaults to one hour when zero.
func NewMatcher(sets []KeywordSet, window time.Duration) *Matcher {
	if window <= 0 {
		window = time.Hour
	}
	m := &Matcher{window: window}

	var dict []string
	for _, set := range sets {
		m.ids = append(m.ids, set.HotspotID)
		for _, kw := range set.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			dict = append(dict, kw)
			m.owners = append(m.owners, set.HotspotID)
		}
	}
	m.automaton = ahocorasick.NewStringMatcher(dict)
	return m
}

// Scan matches every item against every hotspot's keywords and returns one
// MatchStats per known hotspot, including zero-match entries, so a scorer
// fed from this result sees quiet cycles and decays.
func (m *Matcher) Scan(items []NewsItem, now time.Time) map[string]MatchStats {
	stats := make(map[string]MatchStats, len(m.ids))
	for _, id := range m.ids {
		stats[id] = MatchStats{}
	}

	recent := make(map[string]int)
	for _, item := range items {
		hits := m.automaton.Match([]byte(strings.ToLower(item.Headline)))
		if len(hits) == 0 {
			continue
		}
		// An item mentioning several keywords of one hotspot counts once.
		seen := make(map[string]bool)
		for _, hit := range hits {
			seen[m.owners[int(hit)]] = true
		}
		for id := range seen {
			st := stats[id]
			st.Count++
			if item.Breaking {
				st.Breaking = true
			}
			stats[id] = st
			if !item.Time.IsZero() && now.Sub(item.Time) <= m.window {
				recent[id]++
			}
		}
	}

	hours := m.window.Hours()
	for id, n := range recent {
		st := stats[id]
		st.Velocity = float64(n) / hours
		stats[id] = st
	}
	return stats
}

// RunCycle scans the items and drives one full scorer refresh cycle,
// recording a match (or quiet cycle) for every known hotspot.
func (m *Matcher) RunCycle(scorer *Scorer, items []NewsItem, now time.Time) {
	for id, st := range m.Scan(items, now) {
		scorer.RecordMatch(id, st.Count, st.Breaking, st.Velocity)
	}
}
