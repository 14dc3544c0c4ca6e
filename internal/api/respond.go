package api

import (
	"encoding/json"
	"net/http"

	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/alvarorichard/goanime-server/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warn("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
