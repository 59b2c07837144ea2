package api

import (
	"net/http"

	models "brewlytics/database/models_pkg"
	"brewlytics/database/registry"
)

var modelKinds = []string{models.ModelTypeProphet, models.ModelTypeIsolationForest}

func (s *Server) handleActiveModels(w http.ResponseWriter, r *http.Request) {
	branchFilter := getIntParam(r, "branch_id", 0, nil, nil)
	branches := s.branchIDs
	if branchFilter > 0 {
		branches = []int{branchFilter}
	} else if len(branches) == 0 {
		known, err := s.metrics.DistinctBranches()
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "failed to list branches", err)
			return
		}
		branches = known
	}

	active := make([]models.MLModel, 0)
	for _, branchID := range branches {
		for _, kind := range modelKinds {
			m, err := s.registry.FindActive(branchID, kind)
			if err != nil {
				respondWithError(w, http.StatusInternalServerError, "failed to load active models", err)
				return
			}
			if m != nil {
				active = append(active, *m)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": active,
		"count":  len(active),
	})
}

func (s *Server) handleModelHistory(w http.ResponseWriter, r *http.Request) {
	one := 1
	branchID := getIntParam(r, "branch_id", 0, &one, nil)
	if branchID == 0 {
		respondWithError(w, http.StatusBadRequest, "branch_id is required", nil)
		return
	}
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = models.ModelTypeProphet
	}
	maxLimit := 200
	limit := getIntParam(r, "limit", 20, &one, &maxLimit)

	rows, err := s.registry.History(registry.ModelName(kind, branchID), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load model history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": rows,
		"count":  len(rows),
	})
}
