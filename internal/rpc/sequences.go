package rpc

import (
	"net/http"

	"biowatch/internal/sequence"
)

// SequencesGetPaginated implements sequences.get_paginated.
func (h *Handlers) SequencesGetPaginated(w http.ResponseWriter, r *http.Request) {
	instrument("sequences.get_paginated", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "sequences.get_paginated", err)
			return
		}
		page, err := sequence.GetPaginated(r.Context(), db, sequenceGapParam(r),
			intParam(r, "limit", 20), r.URL.Query().Get("cursor"), parseMediaFilters(r))
		if err != nil {
			writeErr(w, "sequences.get_paginated", err)
			return
		}
		writeData(w, page)
	})
}

func speciesParam(r *http.Request) []string {
	return r.URL.Query()["species"]
}

// SequencesSpeciesDistribution implements sequences.get_species_distribution.
func (h *Handlers) SequencesSpeciesDistribution(w http.ResponseWriter, r *http.Request) {
	instrument("sequences.get_species_distribution", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "sequences.get_species_distribution", err)
			return
		}
		dist, err := sequence.SpeciesDistribution(r.Context(), db, sequenceGapParam(r), speciesParam(r))
		if err != nil {
			writeErr(w, "sequences.get_species_distribution", err)
			return
		}
		writeData(w, dist)
	})
}

// SequencesTimeseries implements sequences.get_timeseries.
func (h *Handlers) SequencesTimeseries(w http.ResponseWriter, r *http.Request) {
	instrument("sequences.get_timeseries", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "sequences.get_timeseries", err)
			return
		}
		rows, err := sequence.Timeseries(r.Context(), db, sequenceGapParam(r), speciesParam(r))
		if err != nil {
			writeErr(w, "sequences.get_timeseries", err)
			return
		}
		writeData(w, rows)
	})
}

// SequencesHeatmap implements sequences.get_heatmap.
func (h *Handlers) SequencesHeatmap(w http.ResponseWriter, r *http.Request) {
	instrument("sequences.get_heatmap", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "sequences.get_heatmap", err)
			return
		}
		filters := parseMediaFilters(r)
		rows, err := sequence.Heatmap(r.Context(), db, sequenceGapParam(r), speciesParam(r),
			filters.DateRange, filters.HourRange, filters.IncludeNullTimestamps)
		if err != nil {
			writeErr(w, "sequences.get_heatmap", err)
			return
		}
		writeData(w, rows)
	})
}

// SequencesDailyActivity implements sequences.get_daily_activity.
func (h *Handlers) SequencesDailyActivity(w http.ResponseWriter, r *http.Request) {
	instrument("sequences.get_daily_activity", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "sequences.get_daily_activity", err)
			return
		}
		filters := parseMediaFilters(r)
		rows, err := sequence.DailyActivity(r.Context(), db, sequenceGapParam(r), speciesParam(r), filters.DateRange)
		if err != nil {
			writeErr(w, "sequences.get_daily_activity", err)
			return
		}
		writeData(w, rows)
	})
}
