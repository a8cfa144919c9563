package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/db"
	"github.com/patrickwarner/recserve/internal/middleware"
	"github.com/patrickwarner/recserve/internal/models"
)

// ErrProductWritesUnavailable is returned when the server has no product
// repository.
var ErrProductWritesUnavailable = errors.New("product writes unavailable")

// SaveProductHandler serves PUT /products/{id}. The product is written to
// Postgres, applied to the local snapshot and announced to the other
// instances.
func (s *Server) SaveProductHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	if s.Products == nil {
		writeFail(w, logger, http.StatusConflict, ErrProductWritesUnavailable.Error())
		return
	}

	id := mux.Vars(r)["id"]
	var prod models.Product
	if err := json.NewDecoder(r.Body).Decode(&prod); err != nil {
		writeFail(w, logger, http.StatusBadRequest, "invalid json")
		return
	}
	prod.ID = id
	if strings.TrimSpace(prod.Brand) == "" || strings.TrimSpace(prod.Name) == "" {
		writeFail(w, logger, http.StatusBadRequest, "brand and name are required")
		return
	}

	// a reload must not read Postgres before the write and store after it
	s.reloadMu.Lock()
	if err := s.Products.SaveProduct(r.Context(), &prod); err != nil {
		s.reloadMu.Unlock()
		logger.Error("save product", zap.Error(err), zap.String("product_id", id))
		writeError(w, logger, http.StatusInternalServerError, "failed to save product")
		return
	}
	if s.Catalog != nil {
		if err := s.Catalog.UpsertProduct(prod); err != nil {
			logger.Warn("apply product to catalog", zap.Error(err), zap.String("product_id", id))
		}
		s.Metrics.SetCatalogSize(len(s.Catalog.GetAllProducts()))
	}
	s.reloadMu.Unlock()

	s.notifyUpdate(r, db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionUpsert, ID: id})
	writeSuccess(w, logger, prod)
}

// DeleteProductHandler serves DELETE /products/{id}.
func (s *Server) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	if s.Products == nil {
		writeFail(w, logger, http.StatusConflict, ErrProductWritesUnavailable.Error())
		return
	}

	id := mux.Vars(r)["id"]
	s.reloadMu.Lock()
	if err := s.Products.DeleteProduct(r.Context(), id); err != nil {
		s.reloadMu.Unlock()
		if errors.Is(err, models.ErrNotFound) {
			writeFail(w, logger, http.StatusNotFound, "product "+id+" not found")
			return
		}
		logger.Error("delete product", zap.Error(err), zap.String("product_id", id))
		writeError(w, logger, http.StatusInternalServerError, "failed to delete product")
		return
	}
	if s.Catalog != nil {
		if err := s.Catalog.DeleteProduct(id); err != nil && !errors.Is(err, models.ErrNotFound) {
			logger.Warn("remove product from catalog", zap.Error(err), zap.String("product_id", id))
		}
		s.Metrics.SetCatalogSize(len(s.Catalog.GetAllProducts()))
	}
	s.reloadMu.Unlock()

	s.notifyUpdate(r, db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionDelete, ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// notifyUpdate publishes a catalog change. Without Redis only this instance
// sees it until the next reload.
func (s *Server) notifyUpdate(r *http.Request, upd db.CatalogUpdate) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	if s.Store == nil || s.Store.Client == nil {
		logger.Warn("redis store not available, skipping update notification")
		return
	}
	if err := s.Store.PublishCatalogUpdate(r.Context(), upd); err != nil {
		logger.Warn("publish catalog update", zap.Error(err),
			zap.String("entity", upd.Entity), zap.String("action", upd.Action))
	}
}
