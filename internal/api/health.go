package api

import (
	"net/http"
	"strconv"
)

// HealthHandler responds with a simple status check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	body := `{"status":"ok"`
	if s.Catalog != nil {
		body += `,"products":` + strconv.Itoa(len(s.Catalog.GetAllProducts()))
		body += `,"brands":` + strconv.Itoa(len(s.Catalog.GetAllBrands()))
	}
	_, _ = w.Write([]byte(body + "}"))
}
