package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/storage"
)

// handleIngest runs the hourly pipeline for the current hour. It is called
// by an external scheduler once per hour.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.ingestor.Run(ctx, s.now())
	if errors.Is(err, storage.ErrRecordExists) {
		writeJSONError(w, "record for this hour already exists", http.StatusConflict)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "ingest run failed", slog.Any("error", err))
		writeJSONError(w, "ingest failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
