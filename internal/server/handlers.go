package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"klaerwerk.dev/araflow/internal/pipeline"
	"klaerwerk.dev/araflow/internal/store"
)

const requestTimeout = 10 * time.Second

// maxUploadBytes caps a CSV upload; a week of half-hourly samples is a few
// hundred kilobytes.
const maxUploadBytes = 32 << 20

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload receives a multipart CSV upload and stores it as a week.
// Form fields start_date, end_date and data_type are optional; dates default
// to the export's metadata preamble and data_type to "both".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.uploadFailed(w, http.StatusBadRequest, "invalid multipart request", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.uploadFailed(w, http.StatusBadRequest, "missing file field", err)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		s.uploadFailed(w, http.StatusBadRequest, "failed to read upload", err)
		return
	}
	if s.serverMetrics != nil {
		s.serverMetrics.UploadBytes.Observe(float64(len(raw)))
	}

	res := pipeline.ParseCSV(string(raw))
	if s.pipelineMetrics != nil {
		s.pipelineMetrics.RecordsParsed.Add(float64(len(res.Records)))
		s.pipelineMetrics.RowsSkipped.Add(float64(res.Skipped))
		s.pipelineMetrics.DuplicateRows.Add(float64(res.Duplicates))
	}
	if len(res.Records) == 0 {
		s.uploadFailed(w, http.StatusUnprocessableEntity, "no parseable records in upload", nil)
		return
	}

	startDate := r.FormValue("start_date")
	if startDate == "" {
		startDate = dateToken(res.Metadata[pipeline.MetaStartTime])
	}
	endDate := r.FormValue("end_date")
	if endDate == "" {
		endDate = dateToken(res.Metadata[pipeline.MetaEndTime])
	}
	if startDate == "" || endDate == "" {
		s.uploadFailed(w, http.StatusBadRequest, "start_date and end_date are required when the export carries no Start Time/End Time metadata", nil)
		return
	}

	dataType := r.FormValue("data_type")
	if dataType == "" {
		dataType = store.DataTypeBoth
	}
	switch dataType {
	case store.DataTypeTelemetry, store.DataTypeTotalAmount, store.DataTypeBoth:
	default:
		s.uploadFailed(w, http.StatusBadRequest, "unknown data_type", nil)
		return
	}

	id, err := s.store.SaveWeek(ctx, startDate, endDate, dataType, res.Records, nil)
	if err != nil {
		s.uploadFailed(w, http.StatusInternalServerError, "failed to save week", err)
		return
	}

	s.logger.Info("week uploaded",
		"week_id", id,
		"file", header.Filename,
		"records", len(res.Records),
		"skipped", res.Skipped,
		"duplicates", res.Duplicates,
	)
	if s.serverMetrics != nil {
		s.serverMetrics.UploadsTotal.WithLabelValues("success").Inc()
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"weekId":     id,
		"records":    len(res.Records),
		"skipped":    res.Skipped,
		"duplicates": res.Duplicates,
	})
}

func (s *Server) uploadFailed(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		s.logger.Error(msg, "error", err)
	} else {
		s.logger.Warn(msg)
	}
	if s.serverMetrics != nil {
		s.serverMetrics.UploadsTotal.WithLabelValues("error").Inc()
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleListWeeks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	weeks, err := s.store.ListWeeks(ctx)
	if err != nil {
		s.logger.Error("failed to list weeks", "error", err)
		http.Error(w, "Failed to list weeks", http.StatusInternalServerError)
		return
	}
	if weeks == nil {
		weeks = []store.Week{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"weeks": weeks})
}

func (s *Server) handleGetWeek(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id := r.PathValue("id")
	week, err := s.store.GetWeek(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Week not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load week", "error", err, "week_id", id)
		http.Error(w, "Failed to load week", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, week)
}

func (s *Server) handleDeleteWeek(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id := r.PathValue("id")
	if err := s.store.DeleteWeek(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Week not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to delete week", "error", err, "week_id", id)
		http.Error(w, "Failed to delete week", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAggregates filters a week's records by the requested range and
// returns the daily/weekly aggregates. Query parameters: range (day, week,
// custom), start and end for custom ranges, estimator (fixed, interval).
func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id := r.PathValue("id")
	week, err := s.store.GetWeek(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Week not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load week", "error", err, "week_id", id)
		http.Error(w, "Failed to load week", http.StatusInternalServerError)
		return
	}

	mode := pipeline.RangeMode(r.URL.Query().Get("range"))
	if mode == "" {
		mode = pipeline.RangeWeek
	}
	records := pipeline.FilterByRange(week.Records, mode, r.URL.Query().Get("start"), r.URL.Query().Get("end"))

	agg := pipeline.NewAggregator()
	agg.Estimator = pipeline.EstimatorFor(r.URL.Query().Get("estimator"))

	start := time.Now()
	result := agg.Aggregate(records)
	if s.pipelineMetrics != nil {
		s.pipelineMetrics.AggregationDuration.Observe(time.Since(start).Seconds())
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetectOutliers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	field := r.URL.Query().Get("field")
	if field == "" {
		http.Error(w, "field query parameter is required", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	week, err := s.store.GetWeek(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Week not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load week", "error", err, "week_id", id)
		http.Error(w, "Failed to load week", http.StatusInternalServerError)
		return
	}

	indices := pipeline.DetectOutliers(week.Records, field)
	if s.pipelineMetrics != nil {
		s.pipelineMetrics.OutliersDetected.WithLabelValues(field).Add(float64(len(indices)))
	}

	values := make([]float64, 0, len(indices))
	for _, idx := range indices {
		values = append(values, week.Records[idx].NumericOr(field, 0))
	}
	if indices == nil {
		indices = []int{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"field":   field,
		"indices": indices,
		"values":  values,
	})
}

// handleCorrectOutliers detects outliers for the named field, corrects them
// by neighbor interpolation and persists the corrected record set.
func (s *Server) handleCorrectOutliers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req struct {
		Field string `json:"field"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Field == "" {
		http.Error(w, "request body must name a field", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	week, err := s.store.GetWeek(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Week not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load week", "error", err, "week_id", id)
		http.Error(w, "Failed to load week", http.StatusInternalServerError)
		return
	}

	indices := pipeline.DetectOutliers(week.Records, req.Field)
	corrected := pipeline.CorrectOutliers(week.Records, req.Field, indices)

	if len(indices) > 0 {
		if err := s.store.ReplaceRecords(ctx, id, corrected); err != nil {
			s.logger.Error("failed to persist corrected records", "error", err, "week_id", id)
			http.Error(w, "Failed to persist corrections", http.StatusInternalServerError)
			return
		}
	}
	if s.pipelineMetrics != nil {
		s.pipelineMetrics.OutliersDetected.WithLabelValues(req.Field).Add(float64(len(indices)))
		s.pipelineMetrics.OutliersCorrected.WithLabelValues(req.Field).Add(float64(len(indices)))
	}

	s.logger.Info("outliers corrected", "week_id", id, "field", req.Field, "count", len(indices))
	if indices == nil {
		indices = []int{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"field":     req.Field,
		"corrected": indices,
	})
}

func (s *Server) handleReplaceCorrections(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var corrections []store.ManualCorrection
	if err := json.NewDecoder(r.Body).Decode(&corrections); err != nil {
		http.Error(w, "request body must be a list of corrections", http.StatusBadRequest)
		return
	}
	for _, c := range corrections {
		if c.PumpDuration < 0 || c.TotalFlowARA < 0 || c.TotalFlowGalgenkanal < 0 {
			http.Error(w, "correction values must be non-negative", http.StatusBadRequest)
			return
		}
	}

	id := r.PathValue("id")
	if err := s.store.ReplaceCorrections(ctx, id, corrections); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Week not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to replace corrections", "error", err, "week_id", id)
		http.Error(w, "Failed to replace corrections", http.StatusInternalServerError)
		return
	}

	s.logger.Info("manual corrections replaced", "week_id", id, "count", len(corrections))
	s.writeJSON(w, http.StatusOK, map[string]any{"weekId": id, "corrections": len(corrections)})
}

// dateToken returns the date portion of a metadata timestamp.
func dateToken(ts string) string {
	return pipeline.Record{Time: ts}.DateToken()
}
