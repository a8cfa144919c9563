package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/db"
	"github.com/patrickwarner/recserve/internal/middleware"
	"github.com/patrickwarner/recserve/internal/models"
)

// ErrReloadUnavailable is returned when the server queries Postgres directly
// and holds no catalog snapshot.
var ErrReloadUnavailable = errors.New("catalog reload unavailable")

// Reload replaces the in-memory catalog with a fresh load from Postgres.
func (s *Server) Reload(ctx context.Context) (int, error) {
	if s.Catalog == nil || s.Loader == nil {
		return 0, ErrReloadUnavailable
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	n, err := db.SyncCatalog(ctx, s.Loader, s.Catalog)
	if err != nil {
		s.Metrics.IncrementCatalogReloads("error")
		return 0, fmt.Errorf("sync catalog: %w", err)
	}
	s.Metrics.IncrementCatalogReloads("ok")
	s.Metrics.SetCatalogSize(n)
	return n, nil
}

// HandleCatalogUpdate applies a change announced by another instance. Product
// upserts are re-read from Postgres and deletes are removed from the
// snapshot; anything else, or a failed product update, triggers a full
// reload. Nothing is done when there is no snapshot.
func (s *Server) HandleCatalogUpdate(upd db.CatalogUpdate) {
	if s.Catalog == nil {
		return
	}
	ctx := context.Background()
	logger := s.Logger.With(
		zap.String("entity", upd.Entity),
		zap.String("action", upd.Action),
		zap.String("id", upd.ID))

	if upd.Entity == db.EntityProduct && upd.ID != "" {
		s.reloadMu.Lock()
		err := s.applyProductUpdate(ctx, upd)
		s.reloadMu.Unlock()
		if err == nil {
			s.Metrics.SetCatalogSize(len(s.Catalog.GetAllProducts()))
			logger.Debug("catalog product update applied")
			return
		}
		logger.Warn("product update failed, reloading", zap.Error(err))
	}

	n, err := s.Reload(ctx)
	if err != nil {
		logger.Error("reload on catalog update", zap.Error(err))
		return
	}
	logger.Info("catalog reloaded from update", zap.Int("products", n))
}

func (s *Server) applyProductUpdate(ctx context.Context, upd db.CatalogUpdate) error {
	switch upd.Action {
	case db.ActionUpsert:
		if s.Products == nil {
			return ErrProductWritesUnavailable
		}
		prod, err := s.Products.GetProduct(ctx, upd.ID)
		if errors.Is(err, models.ErrNotFound) {
			// deleted again before we saw the upsert
			return ignoreNotFound(s.Catalog.DeleteProduct(upd.ID))
		}
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		return s.Catalog.UpsertProduct(*prod)
	case db.ActionDelete:
		return ignoreNotFound(s.Catalog.DeleteProduct(upd.ID))
	default:
		return fmt.Errorf("unknown product action %q", upd.Action)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

// ReloadHandler reloads the catalog and tells the other instances to do the same.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	n, err := s.Reload(r.Context())
	if errors.Is(err, ErrReloadUnavailable) {
		writeFail(w, logger, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		logger.Error("reload failed", zap.Error(err))
		writeError(w, logger, http.StatusInternalServerError, "reload failed")
		return
	}

	s.notifyUpdate(r, db.CatalogUpdate{Entity: db.EntityCatalog, Action: db.ActionReload})
	writeSuccess(w, logger, map[string]int{"products": n})
}
