package api

import (
	"net/http"
	"time"
)

func (s *Server) handleRecentForecasts(w http.ResponseWriter, r *http.Request) {
	one := 1
	maxLimit := 200
	branchID := getIntParam(r, "branch_id", 0, nil, nil)
	limit := getIntParam(r, "limit", 20, &one, &maxLimit)
	since := getDateParam(r, "since")

	rows, err := s.forecasts.Recent(branchID, since, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load forecasts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"forecasts": rows,
		"count":     len(rows),
	})
}

// handleLatestAnomaly scores the branch's most recent metrics day against its
// active anomaly model.
func (s *Server) handleLatestAnomaly(w http.ResponseWriter, r *http.Request) {
	one := 1
	branchID := getIntParam(r, "branch_id", 0, &one, nil)
	if branchID == 0 {
		respondWithError(w, http.StatusBadRequest, "branch_id is required", nil)
		return
	}

	row, err := s.metrics.Latest(branchID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load metrics", err)
		return
	}
	if row == nil {
		respondWithError(w, http.StatusNotFound, "no metrics recorded for branch", nil)
		return
	}

	assessment, err := s.detector.Assess(*row)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to assess anomaly", err)
		return
	}
	if assessment == nil {
		respondWithError(w, http.StatusNotFound, "no active anomaly model for branch", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report_date": row.ReportDate.Format(dateLayout),
		"assessment":  assessment,
	})
}

func (s *Server) handleMetricsWindow(w http.ResponseWriter, r *http.Request) {
	one := 1
	branchID := getIntParam(r, "branch_id", 0, &one, nil)
	if branchID == 0 {
		respondWithError(w, http.StatusBadRequest, "branch_id is required", nil)
		return
	}

	end := getDateParam(r, "end")
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := getDateParam(r, "start")
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}

	rows, err := s.metrics.FindWindow(branchID, start, end)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": rows,
		"count":   len(rows),
	})
}

func (s *Server) handleRecentReports(w http.ResponseWriter, r *http.Request) {
	one := 1
	maxLimit := 200
	branchID := getIntParam(r, "branch_id", 0, nil, nil)
	limit := getIntParam(r, "limit", 20, &one, &maxLimit)

	rows, err := s.reports.Recent(branchID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load reports", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": rows,
		"count":   len(rows),
	})
}
