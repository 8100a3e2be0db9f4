package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/internal/vectorstore"
)

// kbMigration tracks a knowledge-base-level migration: one router migration
// per collection the knowledge base owns, moving to a shared target config.
type kbMigration struct {
	ID         string
	KBID       string
	Target     models.StoreConfig
	Collection map[string]*vectorstore.Migration
	finalized  bool
}

type migrationStatusResponse struct {
	ID            string                        `json:"id"`
	KnowledgeBase string                        `json:"knowledge_base_id"`
	Status        vectorstore.MigrationState    `json:"status"`
	Progress      float64                       `json:"progress_fraction"`
	Collections   []vectorstore.MigrationStatus `json:"collections"`
	Finalized     bool                          `json:"finalized,omitempty"`
}

func (m *kbMigration) status() migrationStatusResponse {
	resp := migrationStatusResponse{
		ID:            m.ID,
		KnowledgeBase: m.KBID,
		Status:        vectorstore.MigrationCompleted,
		Finalized:     m.finalized,
	}
	var progress float64
	for _, mig := range m.Collection {
		st := mig.Status()
		resp.Collections = append(resp.Collections, st)
		progress += st.Progress
		switch st.State {
		case vectorstore.MigrationFailed:
			resp.Status = vectorstore.MigrationFailed
		case vectorstore.MigrationCompleted:
		default:
			if resp.Status != vectorstore.MigrationFailed {
				resp.Status = st.State
			}
		}
	}
	if len(m.Collection) > 0 {
		resp.Progress = progress / float64(len(m.Collection))
	}
	return resp
}

type migrateRequest struct {
	Store models.StoreConfig `json:"store"`
}

func (s *Server) handleStartMigration(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "id")
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Store.Backend == "" {
		s.respondError(w, http.StatusBadRequest, "store.backend is required")
		return
	}
	kb, err := s.storage.GetKnowledgeBase(r.Context(), kbID)
	if err != nil {
		s.respondNotFoundOr500(w, err, "knowledge base not found")
		return
	}
	if req.Store.Dimensions == 0 {
		req.Store.Dimensions = kb.Store.Dimensions
	}

	collections := s.kbCollections(kb)
	if len(collections) == 0 {
		s.respondError(w, http.StatusConflict, "knowledge base has no collections to migrate")
		return
	}

	m := &kbMigration{
		ID:         uuid.New().String(),
		KBID:       kbID,
		Target:     req.Store,
		Collection: make(map[string]*vectorstore.Migration, len(collections)),
	}
	for _, collection := range collections {
		mig, err := s.router.Migrate(r.Context(), collection, req.Store)
		if err != nil {
			s.logger.Error("migration start failed",
				zap.String("collection", collection), zap.Error(err))
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		m.Collection[collection] = mig
	}

	s.migrationsMu.Lock()
	s.migrations[m.ID] = m
	s.migrationsMu.Unlock()

	s.logger.Info("migration started",
		zap.String("migration_id", m.ID),
		zap.String("knowledge_base", kbID),
		zap.String("target_backend", req.Store.Backend),
		zap.Int("collections", len(collections)))
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"migration_id": m.ID,
		"status":       string(vectorstore.MigrationCopying),
	})
}

// kbCollections lists the registered collections for a knowledge base's
// embedding models.
func (s *Server) kbCollections(kb *models.KnowledgeBase) []string {
	seen := make(map[string]bool)
	var out []string
	for _, model := range kb.Embedding.Models {
		if model == "" {
			continue
		}
		collection := vectorstore.CollectionName(kb.ID, model)
		if seen[collection] {
			continue
		}
		seen[collection] = true
		if _, err := s.router.Dimensions(collection); err == nil {
			out = append(out, collection)
		}
	}
	return out
}

func (s *Server) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.migrationsMu.Lock()
	m, ok := s.migrations[id]
	s.migrationsMu.Unlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, "migration not found")
		return
	}
	s.respondJSON(w, http.StatusOK, m.status())
}

func (s *Server) handleFinalizeMigration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.migrationsMu.Lock()
	m, ok := s.migrations[id]
	s.migrationsMu.Unlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, "migration not found")
		return
	}

	st := m.status()
	if st.Status != vectorstore.MigrationCompleted {
		s.respondError(w, http.StatusConflict, "migration has not completed")
		return
	}
	if m.finalized {
		s.respondJSON(w, http.StatusOK, m.status())
		return
	}
	for collection := range m.Collection {
		if err := s.router.Finalize(r.Context(), collection); err != nil {
			s.logger.Error("finalize failed",
				zap.String("collection", collection), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	// The knowledge base's store config follows the migrated collections so
	// future collections land on the new backend.
	kb, err := s.storage.GetKnowledgeBase(r.Context(), m.KBID)
	if err == nil {
		kb.Store = m.Target
		if err := s.storage.UpdateKnowledgeBase(r.Context(), kb); err != nil {
			s.logger.Warn("store config update failed", zap.Error(err))
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn("knowledge base lookup failed", zap.Error(err))
	}

	s.migrationsMu.Lock()
	m.finalized = true
	s.migrationsMu.Unlock()

	s.logger.Info("migration finalized", zap.String("migration_id", m.ID))
	s.respondJSON(w, http.StatusOK, m.status())
}
