// Package sequence implements the sequence engine & paginator (spec
// component G): grouping media into runs by timestamp gap or explicit event
// id, sequence-aware reduction of per-media aggregates, and the two-phase
// opaque-cursor paginator that walks a study's media in sequence-sized
// chunks.
package sequence

import "time"

// Item is the minimal shape the grouping algorithms need: any media-scoped
// row that carries a deployment, an optional timestamp, and an optional
// event id. Both the aggregate reducers (query.MediaSpeciesRow) and the
// paginator's own media rows satisfy this by conversion.
type Item struct {
	MediaID      string
	DeploymentID string
	Timestamp    *string
	EventID      *string
}

// Sequence is a contiguous run of Items sharing a deployment and either a
// timestamp gap below threshold or a common event id.
type Sequence struct {
	Items []Item
}

// timestampLayouts mirrors the sanitizer's accepted shapes (schema package):
// ingestion always appends a timezone designator, but a handful of layouts
// must be tried since milliseconds and offset-vs-Z forms both occur.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Group dispatches to gap mode or event-id mode depending on whether
// gapSeconds is set, mirroring the study metadata rule that a null
// sequence_gap means "use event_id-based grouping" (spec §3, §4.G).
func Group(items []Item, gapSeconds *int) []Sequence {
	if gapSeconds == nil {
		return groupByEvent(items)
	}
	return groupByGap(items, *gapSeconds)
}

// groupByGap walks items in the order given (the caller is responsible for
// sorting them by timestamp, ascending or descending — the gap check is
// symmetric) and starts a new sequence whenever the deployment changes,
// either timestamp is missing, or the gap between consecutive items exceeds
// the threshold.
func groupByGap(items []Item, gapSeconds int) []Sequence {
	var out []Sequence
	threshold := time.Duration(gapSeconds) * time.Second

	var cur *Sequence
	var prevTime time.Time
	var prevDeployment string
	havePrev := false

	for _, it := range items {
		t, ok := parseTimestamp(derefStr(it.Timestamp))
		startNew := !ok || !havePrev || it.DeploymentID != prevDeployment
		if !startNew {
			diff := t.Sub(prevTime)
			if diff < 0 {
				diff = -diff
			}
			if diff > threshold {
				startNew = true
			}
		}

		if startNew || cur == nil {
			out = append(out, Sequence{})
			cur = &out[len(out)-1]
		}
		cur.Items = append(cur.Items, it)

		if ok {
			prevTime = t
			prevDeployment = it.DeploymentID
			havePrev = true
		} else {
			// A missing timestamp breaks the chain entirely: the next item,
			// even in the same deployment, must start its own sequence.
			havePrev = false
		}
	}
	return out
}

// groupByEvent groups by EventID; an item with no event id is always its
// own singleton sequence (spec §4.G "event-id mode").
func groupByEvent(items []Item) []Sequence {
	var out []Sequence
	index := make(map[string]int)

	for _, it := range items {
		if it.EventID == nil || *it.EventID == "" {
			out = append(out, Sequence{Items: []Item{it}})
			continue
		}
		key := it.DeploymentID + "\x00" + *it.EventID
		if i, ok := index[key]; ok {
			out[i].Items = append(out[i].Items, it)
			continue
		}
		index[key] = len(out)
		out = append(out, Sequence{Items: []Item{it}})
	}
	return out
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
