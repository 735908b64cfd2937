// Package api exposes the assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medqa/medqa/internal/chat"
	"github.com/medqa/medqa/internal/ingest"
	"github.com/medqa/medqa/internal/retrieval"
	"github.com/medqa/medqa/internal/session"
	"github.com/medqa/medqa/internal/storage"
)

const maxAskBodySize = 1 << 20 // 1MB

// Asker answers questions within a session.
type Asker interface {
	Ask(ctx context.Context, sessionID, query string) (*chat.Response, error)
	Sessions() *session.Store
}

// Ingestor drives corpus ingestion and reports its state.
type Ingestor interface {
	Initialize(ctx context.Context, documentsDir string) (*ingest.Report, error)
	Stage() ingest.Stage
	FailedStage() ingest.Stage
	LastReport() *ingest.Report
}

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Assistant    Asker
	Pipeline     Ingestor
	Store        *storage.Store
	DocumentsDir string
	Token        string
}

// NewHandler builds the HTTP API. All routes require the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/ask", handleAsk(deps))
	r.Post("/rebuild", handleRebuild(deps))
	r.Get("/status", handleStatus(deps))
	r.Get("/sessions/{id}/history", handleSessionHistory(deps))
	r.Get("/interactions", handleListInteractions(deps))
	r.Get("/interactions/{id}", handleGetInteraction(deps))

	return r
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAskBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		resp, err := deps.Assistant.Ask(r.Context(), req.SessionID, req.Query)
		if err != nil {
			if errors.Is(err, retrieval.ErrIndexNotReady) {
				httpError(w, http.StatusServiceUnavailable, "index_not_ready", "index is not ready; run ingestion first")
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "failed to answer: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleRebuild(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Pipeline.Initialize(r.Context(), deps.DocumentsDir)
		if err != nil {
			var ingErr *ingest.Error
			if errors.As(err, &ingErr) && ingErr.Kind == ingest.KindEmptyCorpus {
				httpError(w, http.StatusUnprocessableEntity, "empty_corpus", "no usable documents: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "ingestion failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, reportResponse(report))
	}
}

type statusResponse struct {
	Stage       string `json:"stage"`
	FailedStage string `json:"failed_stage,omitempty"`
	Documents   int    `json:"documents,omitempty"`
	Chunks      int    `json:"chunks,omitempty"`
	Reused      bool   `json:"reused,omitempty"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{Stage: deps.Pipeline.Stage().String()}
		if deps.Pipeline.Stage() == ingest.StageFailed {
			resp.FailedStage = deps.Pipeline.FailedStage().String()
		}
		if report := deps.Pipeline.LastReport(); report != nil {
			resp.Documents = report.Documents
			resp.Chunks = report.Chunks
			resp.Reused = report.Reused
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type turnResponse struct {
	Query                    string   `json:"query"`
	Reply                    string   `json:"reply"`
	GuidanceCaution          string   `json:"guidance_caution"`
	AdditionalResourcePrompt string   `json:"additional_resource_prompt"`
	CitedChunkIDs            []string `json:"cited_chunk_ids"`
	At                       string   `json:"at"`
}

func handleSessionHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess := deps.Assistant.Sessions().Lookup(id)
		if sess == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown session %s", id)
			return
		}

		turns := sess.History()
		out := make([]turnResponse, len(turns))
		for i, t := range turns {
			out[i] = turnResponse{
				Query:                    t.Query,
				Reply:                    t.Reply,
				GuidanceCaution:          t.GuidanceCaution,
				AdditionalResourcePrompt: t.AdditionalResourcePrompt,
				CitedChunkIDs:            t.CitedChunkIDs,
				At:                       t.At.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": out})
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 200 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be 1-200")
				return
			}
			limit = n
		}

		interactions, err := deps.Store.GetRecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing interactions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions})
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		interaction, err := deps.Store.GetInteraction(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "unknown interaction %s", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "loading interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	}
}

func reportResponse(report *ingest.Report) map[string]any {
	skipped := make([]map[string]string, len(report.Skipped))
	for i, s := range report.Skipped {
		skipped[i] = map[string]string{"path": s.Path, "error": s.Err.Error()}
	}
	return map[string]any{
		"documents": report.Documents,
		"chunks":    report.Chunks,
		"reused":    report.Reused,
		"skipped":   skipped,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
