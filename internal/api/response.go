package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Response statuses: success carries data, fail is a client problem,
// error is a server problem.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("encode response", zap.Error(err))
	}
}

func writeSuccess(w http.ResponseWriter, logger *zap.Logger, data any) {
	writeJSON(w, logger, http.StatusOK, envelope{Status: statusSuccess, Data: data})
}

func writeFail(w http.ResponseWriter, logger *zap.Logger, code int, message string) {
	writeJSON(w, logger, code, envelope{Status: statusFail, Message: message})
}

func writeError(w http.ResponseWriter, logger *zap.Logger, code int, message string) {
	writeJSON(w, logger, code, envelope{Status: statusError, Message: message})
}
