package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/chie/internal/ingest"
	"github.com/hyperjump/chie/internal/models"
	"github.com/hyperjump/chie/internal/storage"
)

type knowledgeBaseRequest struct {
	ID          string                  `json:"id,omitempty"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Embedding   *models.EmbeddingPolicy `json:"embedding,omitempty"`
	Store       *models.StoreConfig     `json:"store,omitempty"`
	Segment     *models.SegmentPolicy   `json:"segment,omitempty"`
}

func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req knowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	kb := &models.KnowledgeBase{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Embedding:   s.config.Embedding.EmbeddingPolicy(),
		Store:       s.defaultStoreConfig(),
		Segment:     s.config.Segment.SegmentPolicy(),
	}
	if kb.ID == "" {
		kb.ID = uuid.New().String()
	}
	if req.Embedding != nil && len(req.Embedding.Models) > 0 {
		kb.Embedding = *req.Embedding
	}
	if req.Store != nil {
		kb.Store = *req.Store
		if kb.Store.Dimensions == 0 {
			kb.Store.Dimensions = s.config.Embedding.Dimensions
		}
	}
	if req.Segment != nil {
		kb.Segment = *req.Segment
	}
	if kb.Embedding.ModelFor(models.ContentTypeText) == "" {
		s.respondError(w, http.StatusBadRequest, "embedding policy needs a text model")
		return
	}
	if err := s.storage.CreateKnowledgeBase(r.Context(), kb); err != nil {
		s.logger.Error("create knowledge base failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, kb)
}

func (s *Server) defaultStoreConfig() models.StoreConfig {
	return models.StoreConfig{
		Backend:    s.config.Store.Backend,
		Address:    s.config.Store.Address,
		Metric:     s.config.Store.Metric,
		Dimensions: s.config.Embedding.Dimensions,
	}
}

func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	kbs, err := s.storage.ListKnowledgeBases(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"knowledge_bases": kbs})
}

func (s *Server) handleGetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kb, err := s.storage.GetKnowledgeBase(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "knowledge base not found")
		return
	}
	s.respondJSON(w, http.StatusOK, kb)
}

func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coord.DeleteKnowledgeBase(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "knowledge base not found")
			return
		}
		s.logger.Error("delete knowledge base failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input.KnowledgeBaseID = chi.URLParam(r, "id")
	doc, err := s.coord.Submit(r.Context(), &input)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "knowledge base not found")
		case errors.Is(err, ingest.ErrQueueFull):
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"document_id": doc.ID,
		"status":      string(doc.Status),
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "id")
	status := models.DocumentStatus(r.URL.Query().Get("status"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if _, err := s.storage.GetKnowledgeBase(r.Context(), kbID); err != nil {
		s.respondNotFoundOr500(w, err, "knowledge base not found")
		return
	}
	docs, err := s.storage.ListDocuments(r.Context(), kbID, status, offset, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.coord.ReprocessFailed(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"document_id": doc.ID,
		"status":      string(doc.Status),
	})
}

func (s *Server) handleCancelDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coord.Cancel(r.Context(), id); err != nil {
		s.respondNotFoundOr500(w, err, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"document_id": id, "status": "cancelling"})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coord.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("delete document failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"document_id": id, "status": "deleted"})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrievalQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query.KnowledgeBaseID = chi.URLParam(r, "id")
	s.logger.Debug("retrieve request",
		zap.String("knowledge_base", query.KnowledgeBaseID),
		zap.String("query", query.Query),
		zap.Int("top_k", query.TopK))
	response, err := s.engine.Retrieve(r.Context(), &query)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "knowledge base not found")
			return
		}
		s.logger.Error("retrieval failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kbs, err := s.storage.ListKnowledgeBases(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var docs, chunks int64
	for _, kb := range kbs {
		d, err := s.storage.CountDocuments(ctx, kb.ID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		c, err := s.storage.CountChunks(ctx, kb.ID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		docs += d
		chunks += c
	}
	resp := map[string]interface{}{
		"knowledge_bases": len(kbs),
		"documents":       docs,
		"chunks":          chunks,
		"collections":     s.router.Collections(),
		"ingest_queue":    s.coord.QueueDepth(),
	}
	if diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.BleveIndexPath,
		s.config.Storage.VectorDataDir,
	); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = map[string]interface{}{
		"embedding_provider": s.config.Embedding.Provider,
		"store_backend":      s.config.Store.Backend,
		"segment_target":     s.config.Segment.TargetSize,
		"hybrid_enabled":     s.config.Retrieval.HybridEnabled,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondNotFoundOr500(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, models.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, msg)
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
