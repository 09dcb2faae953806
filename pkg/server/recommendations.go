package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/facilityenergy/pkg/forecast"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/recommend"
	"github.com/raterudder/facilityenergy/pkg/types"
)

type recommendationsResponse struct {
	Timestamp   time.Time              `json:"recommendation_timestamp"`
	Goal        types.Goal             `json:"optimization_goal"`
	Period      types.Period           `json:"period"`
	Suggestions []types.Recommendation `json:"suggestions"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	goal := types.GoalCostReduction
	if v := q.Get("optimization_goal"); v != "" {
		g, err := types.ParseGoal(v)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		goal = g
	}
	period := types.PeriodHourly
	if v := q.Get("period"); v != "" {
		p, err := types.ParsePeriod(v)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		period = p
	}

	current, err := s.storage.GetLatestRecord(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest record", slog.Any("error", err))
		writeJSONError(w, "failed to get latest record", http.StatusInternalServerError)
		return
	}
	if current == nil {
		writeJSONError(w, "no current data available", http.StatusNotFound)
		return
	}

	now := s.now()
	preds, err := s.forecaster.Forecast(ctx, now, period.Horizon())
	if errors.Is(err, forecast.ErrNoModel) || (err == nil && len(preds) == 0) {
		writeJSONError(w, "no forecast available", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to forecast", slog.Any("error", err))
		writeJSONError(w, "failed to forecast", http.StatusInternalServerError)
		return
	}

	var suggestions []types.Recommendation
	if s.banks != nil && len(s.banks.Banks) > 0 {
		suggestions = recommend.DefaultRules(s.banks.Banks).Generate(*current, preds, goal, period)
	} else {
		suggestions = recommend.Generate(*current, preds, goal, period)
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, recommendationsResponse{
		Timestamp:   now.UTC(),
		Goal:        goal,
		Period:      period,
		Suggestions: suggestions,
	})
}
