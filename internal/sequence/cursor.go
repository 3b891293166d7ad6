package sequence

import (
	"encoding/base64"
	"encoding/json"

	"biowatch/internal/logging"
	"biowatch/internal/metrics"
)

// cursorVersion is bumped whenever the envelope shape changes incompatibly;
// an unrecognized version is treated as malformed (spec §4.G: "unknown/
// malformed cursors reset to the beginning of phase one with a warning").
const cursorVersion = 1

// phaseTimestamped and phaseNull name the two paginator phases inside the
// encoded cursor.
const (
	phaseTimestamped = "timestamped"
	phaseNull        = "null"
)

// cursor is the decoded shape of the opaque pagination token. Only the
// fields relevant to the current phase are populated.
type cursor struct {
	V      int    `json:"v"`
	Phase  string `json:"phase"`
	T      string `json:"t,omitempty"`
	M      string `json:"m,omitempty"`
	Offset int    `json:"offset"`
}

// startCursor is the implicit cursor of a fresh walk: phase one, no lower
// bound.
func startCursor() cursor {
	return cursor{V: cursorVersion, Phase: phaseTimestamped}
}

// encodeCursor serializes c as base64url(JSON), with no padding so it is
// safe to embed in a query string untouched.
func encodeCursor(c cursor) string {
	data, err := json.Marshal(c)
	if err != nil {
		// c is always one of the two shapes this package builds; a marshal
		// failure here would mean a broken struct, not bad input.
		logging.Error("sequence: failed to encode cursor: %v", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodeCursor parses an opaque cursor string. An empty string decodes to
// the start of phase one. Any other malformed or unrecognized-version
// input resets to the start of phase one and increments the bad-cursor
// metric, per spec §4.G.
func decodeCursor(s string) cursor {
	if s == "" {
		return startCursor()
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		metrics.PaginatorBadCursors.Inc()
		logging.Warn("sequence: malformed cursor %q, resetting to start: %v", s, err)
		return startCursor()
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		metrics.PaginatorBadCursors.Inc()
		logging.Warn("sequence: unparsable cursor %q, resetting to start: %v", s, err)
		return startCursor()
	}
	if c.V != cursorVersion || (c.Phase != phaseTimestamped && c.Phase != phaseNull) {
		metrics.PaginatorBadCursors.Inc()
		logging.Warn("sequence: unknown cursor version/phase %+v, resetting to start", c)
		return startCursor()
	}
	return c
}
