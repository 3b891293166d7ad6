package rpc

import (
	"net/http"
	"strconv"

	"biowatch/internal/query"
)

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolParam(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true"
}

// parseMediaFilters reads the species/date-range/hour-range/null-timestamp
// query parameters shared by get_media and every sequence-aware aggregate
// (spec §4.D/§4.G).
func parseMediaFilters(r *http.Request) query.MediaFilters {
	q := r.URL.Query()
	filters := query.MediaFilters{
		Species:               q["species"],
		IncludeNullTimestamps: boolParam(r, "includeNullTimestamps"),
		DateRange: query.DateRange{
			Start: q.Get("dateStart"),
			End:   q.Get("dateEnd"),
		},
	}
	if q.Get("hourStart") != "" || q.Get("hourEnd") != "" {
		filters.HourRange = query.HourRange{
			Start: intParam(r, "hourStart", 0),
			End:   intParam(r, "hourEnd", 24),
			Set:   true,
		}
	}
	return filters
}

func sequenceGapParam(r *http.Request) *int {
	v := r.URL.Query().Get("gapSeconds")
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
