package bestmedia

import (
	"fmt"
	"sort"

	"biowatch/internal/metrics"
	"biowatch/internal/sequence"
)

// Diversity caps and threshold (spec §4.H stage 3).
const (
	maxPerSpecies      = 2
	maxPerDeployment   = 3
	maxPerWeekBucket   = 4
	minQualityScore    = 0.3
	sequenceGapSeconds = 120
)

// diversityCandidate is a stage-2 survivor enriched with the sequence id
// and weekly bucket stage 3's caps need.
type diversityCandidate struct {
	Item
	SequenceID int
	WeekBucket string
}

// selectDiverse runs stage 3: assign sequence ids, then three greedy
// phases of progressively relaxed caps, the per-sequence cap held
// throughout. Output is score-desc.
func selectDiverse(candidates []Item, limit int) []Item {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}

	pool := withSequenceIDs(candidates)
	sorted := append([]diversityCandidate(nil), pool...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	speciesCount := make(map[string]int)
	deploymentCount := make(map[string]int)
	weekCount := make(map[string]int)
	sequenceTaken := make(map[int]bool)
	taken := make(map[string]bool)
	var selected []diversityCandidate

	add := func(cand diversityCandidate) {
		selected = append(selected, cand)
		taken[cand.MediaID] = true
		if cand.ScientificName != nil {
			speciesCount[*cand.ScientificName]++
		}
		deploymentCount[cand.DeploymentID]++
		weekCount[cand.WeekBucket]++
		sequenceTaken[cand.SequenceID] = true
	}

	// Phase 1: the single highest-scoring candidate per species, only the
	// sequence cap enforced.
	bestOfSpecies := make(map[string]diversityCandidate)
	for _, cand := range sorted {
		if cand.Score < minQualityScore || cand.ScientificName == nil {
			continue
		}
		if existing, ok := bestOfSpecies[*cand.ScientificName]; !ok || cand.Score > existing.Score {
			bestOfSpecies[*cand.ScientificName] = cand
		}
	}
	var phase1 []diversityCandidate
	for _, cand := range bestOfSpecies {
		phase1 = append(phase1, cand)
	}
	sort.Slice(phase1, func(i, j int) bool { return phase1[i].Score > phase1[j].Score })
	for _, cand := range phase1 {
		if len(selected) >= limit {
			break
		}
		if sequenceTaken[cand.SequenceID] {
			continue
		}
		add(cand)
	}

	// Phase 2: fill remaining slots under the full cap set.
	if len(selected) < limit {
		for _, cand := range sorted {
			if len(selected) >= limit {
				break
			}
			if taken[cand.MediaID] || cand.Score < minQualityScore || cand.ScientificName == nil {
				continue
			}
			if sequenceTaken[cand.SequenceID] {
				continue
			}
			if speciesCount[*cand.ScientificName] >= maxPerSpecies {
				continue
			}
			if deploymentCount[cand.DeploymentID] >= maxPerDeployment {
				continue
			}
			if weekCount[cand.WeekBucket] >= maxPerWeekBucket {
				continue
			}
			add(cand)
		}
	}

	// Phase 3: relax species/deployment/temporal caps, keep the sequence
	// cap — the only one the testable property requires unconditionally.
	if len(selected) < limit {
		metrics.SelectorRelaxations.WithLabelValues("phase3").Inc()
		for _, cand := range sorted {
			if len(selected) >= limit {
				break
			}
			if taken[cand.MediaID] || cand.Score < minQualityScore {
				continue
			}
			if sequenceTaken[cand.SequenceID] {
				continue
			}
			add(cand)
		}
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Score > selected[j].Score })
	out := make([]Item, len(selected))
	for i, cand := range selected {
		out[i] = cand.Item
	}
	return out
}

// withSequenceIDs sorts candidates by (deployment, timestamp) and reuses
// the sequence engine's gap-based grouping (threshold 120s) to assign each
// one a sequence id, per spec §4.H stage 3.
func withSequenceIDs(items []Item) []diversityCandidate {
	sorted := append([]Item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].DeploymentID != sorted[j].DeploymentID {
			return sorted[i].DeploymentID < sorted[j].DeploymentID
		}
		return derefTimestamp(sorted[i].Timestamp) < derefTimestamp(sorted[j].Timestamp)
	})

	seqItems := make([]sequence.Item, len(sorted))
	for i, it := range sorted {
		seqItems[i] = sequence.Item{MediaID: it.MediaID, DeploymentID: it.DeploymentID, Timestamp: it.Timestamp}
	}
	gap := sequenceGapSeconds
	groups := sequence.Group(seqItems, &gap)

	seqIndex := make(map[string]int, len(sorted))
	for gi, g := range groups {
		for _, it := range g.Items {
			seqIndex[it.MediaID] = gi
		}
	}

	out := make([]diversityCandidate, len(sorted))
	for i, it := range sorted {
		out[i] = diversityCandidate{
			Item:       it,
			SequenceID: seqIndex[it.MediaID],
			WeekBucket: weekBucket(it.Timestamp),
		}
	}
	return out
}

func derefTimestamp(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// weekBucket implements spec §9's temporal bucket key: f"{year}-W{floor(day_of_year/7)}".
func weekBucket(ts *string) string {
	if ts == nil {
		return "no-timestamp"
	}
	t, ok := parseTimestampLoose(*ts)
	if !ok {
		return "no-timestamp"
	}
	return fmt.Sprintf("%d-W%d", t.Year(), t.YearDay()/7)
}
