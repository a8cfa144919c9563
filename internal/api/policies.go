package api

import "net/http"

// PoliciesHandler lists the FBT steps configured for every category.
func (s *Server) PoliciesHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.Logger, map[string]any{
		"policies": s.Engine.Policies().Describe(),
	})
}
