package sequence

import "biowatch/internal/query"

// toItems extracts one Item per distinct media id referenced in rows,
// preserving first-seen order, so the grouping algorithms in group.go see
// a media-granular view regardless of how many species rows exist per
// media.
func toItems(rows []query.MediaSpeciesRow) []Item {
	seen := make(map[string]bool, len(rows))
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		if seen[r.MediaID] {
			continue
		}
		seen[r.MediaID] = true
		items = append(items, Item{
			MediaID:      r.MediaID,
			DeploymentID: r.DeploymentID,
			Timestamp:    r.Timestamp,
			EventID:      r.EventID,
		})
	}
	return items
}

// mediaSequenceIndex maps each media id to the index of the sequence it
// belongs to, per the grouping rule chosen by gapSeconds.
func mediaSequenceIndex(rows []query.MediaSpeciesRow, gapSeconds *int) map[string]int {
	seqs := Group(toItems(rows), gapSeconds)
	idx := make(map[string]int, len(rows))
	for i, seq := range seqs {
		for _, it := range seq.Items {
			idx[it.MediaID] = i
		}
	}
	return idx
}

// reducedCell is the sequence-aware contribution of one species within one
// sequence: the max observed count, and a representative row carrying the
// ancillary dimensions (timestamp, week, hour, location) that callers
// surface alongside the count.
type reducedCell struct {
	seq     int
	species string
	count   int
	rep     query.MediaSpeciesRow
}

// reduceCells groups rows by (sequence, species) and takes max(count)
// within each group, matching spec §4.G: "reduce each sequence to a single
// contribution per species... typically max(count)... avoids over-counting
// burst captures." The representative row is the one carrying that max
// count (first one seen, on ties).
func reduceCells(rows []query.MediaSpeciesRow, gapSeconds *int) []reducedCell {
	idx := mediaSequenceIndex(rows, gapSeconds)

	type key struct {
		seq     int
		species string
	}
	byKey := make(map[key]*reducedCell)
	var order []key

	for _, r := range rows {
		k := key{seq: idx[r.MediaID], species: r.ScientificName}
		cell, ok := byKey[k]
		if !ok {
			cell = &reducedCell{seq: k.seq, species: k.species, count: r.Count, rep: r}
			byKey[k] = cell
			order = append(order, k)
			continue
		}
		if r.Count > cell.count {
			cell.count = r.Count
			cell.rep = r
		}
	}

	out := make([]reducedCell, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// ReduceSpeciesCounts sums each species' sequence-level max contribution
// across all sequences, giving a burst-safe total analogous to
// query.SpeciesDistribution but scoped to the sequence-aware media set the
// caller already filtered.
func ReduceSpeciesCounts(rows []query.MediaSpeciesRow, gapSeconds *int) []query.SpeciesCount {
	totals := make(map[string]int)
	var order []string
	for _, cell := range reduceCells(rows, gapSeconds) {
		if _, ok := totals[cell.species]; !ok {
			order = append(order, cell.species)
		}
		totals[cell.species] += cell.count
	}
	out := make([]query.SpeciesCount, 0, len(order))
	for _, sp := range order {
		out = append(out, query.SpeciesCount{ScientificName: sp, Count: totals[sp]})
	}
	return out
}

// reducedRows converts reduceCells output back into MediaSpeciesRow shape,
// one row per (sequence, species), for callers that want the full
// dimensional row (timeseries, heatmap, daily activity) rather than a
// flat per-species total.
func reducedRows(rows []query.MediaSpeciesRow, gapSeconds *int) []query.MediaSpeciesRow {
	cells := reduceCells(rows, gapSeconds)
	out := make([]query.MediaSpeciesRow, 0, len(cells))
	for _, cell := range cells {
		row := cell.rep
		row.Count = cell.count
		out = append(out, row)
	}
	return out
}

// ReduceTimeseries applies sequence-aware reduction to a timeseries result
// set (one row per sequence per species, instead of one row per media).
func ReduceTimeseries(rows []query.MediaSpeciesRow, gapSeconds *int) []query.MediaSpeciesRow {
	return reducedRows(rows, gapSeconds)
}

// ReduceHeatmap applies sequence-aware reduction to a heatmap result set.
func ReduceHeatmap(rows []query.MediaSpeciesRow, gapSeconds *int) []query.MediaSpeciesRow {
	return reducedRows(rows, gapSeconds)
}

// ReduceDailyActivity applies sequence-aware reduction to a diel-activity
// result set.
func ReduceDailyActivity(rows []query.MediaSpeciesRow, gapSeconds *int) []query.MediaSpeciesRow {
	return reducedRows(rows, gapSeconds)
}
