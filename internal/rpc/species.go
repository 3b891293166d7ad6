package rpc

import (
	"net/http"

	"biowatch/internal/query"
)

// SpeciesDistribution implements species.get_distribution.
func (h *Handlers) SpeciesDistribution(w http.ResponseWriter, r *http.Request) {
	instrument("species.get_distribution", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "species.get_distribution", err)
			return
		}
		dist, err := query.SpeciesDistribution(r.Context(), db)
		if err != nil {
			writeErr(w, "species.get_distribution", err)
			return
		}
		writeData(w, dist)
	})
}

// SpeciesBlankCount implements species.get_blank_count.
func (h *Handlers) SpeciesBlankCount(w http.ResponseWriter, r *http.Request) {
	instrument("species.get_blank_count", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "species.get_blank_count", err)
			return
		}
		count, err := query.BlankMediaCount(r.Context(), db)
		if err != nil {
			writeErr(w, "species.get_blank_count", err)
			return
		}
		writeData(w, map[string]int{"count": count})
	})
}

// SpeciesDistinct implements species.get_distinct.
func (h *Handlers) SpeciesDistinct(w http.ResponseWriter, r *http.Request) {
	instrument("species.get_distinct", func() {
		db, _, err := h.studyDB(r.Context(), r)
		if err != nil {
			writeErr(w, "species.get_distinct", err)
			return
		}
		distinct, err := query.DistinctSpecies(r.Context(), db)
		if err != nil {
			writeErr(w, "species.get_distinct", err)
			return
		}
		writeData(w, distinct)
	})
}
