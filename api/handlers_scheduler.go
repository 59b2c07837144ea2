package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Start(); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to start scheduler", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"running": true,
	})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"running": false,
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.scheduler.Running(),
		"jobs":    s.scheduler.Jobs(),
	})
}

// jobRunRequest is the manual trigger payload. Both fields are optional:
// an empty target_date means the job's natural date, an empty branch list
// means every configured branch.
type jobRunRequest struct {
	TargetDate string `json:"target_date"`
	BranchIDs  []int  `json:"branch_ids"`
}

func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req jobRunRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	var targetDate time.Time
	if req.TargetDate != "" {
		parsed, err := time.Parse(dateLayout, req.TargetDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "target_date must be YYYY-MM-DD", err)
			return
		}
		targetDate = parsed
	}

	summary, err := s.scheduler.Trigger(r.Context(), name, targetDate, req.BranchIDs)
	if err != nil {
		respondWithError(w, http.StatusConflict, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": summary,
	})
}
