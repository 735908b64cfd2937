// Package chat orchestrates one question/answer cycle: retrieval,
// generation, session bookkeeping, and the durable interaction log.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medqa/medqa/internal/answer"
	"github.com/medqa/medqa/internal/engine"
	"github.com/medqa/medqa/internal/index"
	"github.com/medqa/medqa/internal/session"
	"github.com/medqa/medqa/internal/storage"
)

// historyWindow bounds how many prior turns are replayed to the model.
const historyWindow = 6

// Retriever is the slice of the retrieval layer the assistant needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]index.ScoredEntry, error)
}

// Generator produces a structured answer from a query and context chunks.
type Generator interface {
	Generate(ctx context.Context, query string, chunks []index.ScoredEntry, history []engine.Message) (*answer.Answer, error)
}

// Response is one answered question, with the session it belongs to.
type Response struct {
	SessionID                string   `json:"session_id"`
	Reply                    string   `json:"reply"`
	GuidanceCaution          string   `json:"guidance_caution"`
	AdditionalResourcePrompt string   `json:"additional_resource_prompt"`
	CitedChunkIDs            []string `json:"cited_chunk_ids"`
}

// Assistant answers questions over the ingested corpus.
type Assistant struct {
	retriever Retriever
	generator Generator
	sessions  *session.Store
	store     *storage.Store
	logger    *slog.Logger
}

func New(r Retriever, g Generator, sessions *session.Store, store *storage.Store, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		retriever: r,
		generator: g,
		sessions:  sessions,
		store:     store,
		logger:    logger,
	}
}

// Sessions exposes the session store for history lookups.
func (a *Assistant) Sessions() *session.Store { return a.sessions }

// Ask answers a question within the given session. An empty or unknown
// sessionID starts a new session; the returned Response carries the id
// to continue with, so a client holding a stale id notices it changed.
// The turn is appended to the session and logged to storage before
// returning; a logging failure is reported but does not fail the answer.
func (a *Assistant) Ask(ctx context.Context, sessionID, query string) (*Response, error) {
	sess := a.sessions.Get(sessionID)

	chunks, err := a.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	ans, err := a.generator.Generate(ctx, query, chunks, historyMessages(sess))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sess.Append(session.Turn{
		Query:                    query,
		Reply:                    ans.Reply,
		GuidanceCaution:          ans.GuidanceCaution,
		AdditionalResourcePrompt: ans.AdditionalResourcePrompt,
		CitedChunkIDs:            ans.CitedChunkIDs,
	})

	if err := a.logInteraction(sess.ID(), query, ans); err != nil {
		a.logger.Warn("failed to log interaction", "session", sess.ID(), "error", err)
	}

	a.logger.Info("question answered",
		"session", sess.ID(), "chunks", len(chunks), "cited", len(ans.CitedChunkIDs))

	return &Response{
		SessionID:                sess.ID(),
		Reply:                    ans.Reply,
		GuidanceCaution:          ans.GuidanceCaution,
		AdditionalResourcePrompt: ans.AdditionalResourcePrompt,
		CitedChunkIDs:            ans.CitedChunkIDs,
	}, nil
}

// historyMessages replays the most recent turns as alternating user and
// assistant messages.
func historyMessages(sess *session.Session) []engine.Message {
	turns := sess.History()
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	msgs := make([]engine.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			engine.Message{Role: "user", Content: t.Query},
			engine.Message{Role: "assistant", Content: t.Reply},
		)
	}
	return msgs
}

func (a *Assistant) logInteraction(sessionID, query string, ans *answer.Answer) error {
	if a.store == nil {
		return nil
	}
	cited, err := json.Marshal(ans.CitedChunkIDs)
	if err != nil {
		return err
	}
	return a.store.SaveInteraction(storage.Interaction{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Query:     query,
		Reply:     ans.Reply,
		Guidance:  ans.GuidanceCaution,
		Resource:  ans.AdditionalResourcePrompt,
		CitedIDs:  string(cited),
	})
}
