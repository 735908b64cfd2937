// Package answer turns a query and retrieved context chunks into a
// structured, cited response from the chat model.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/medqa/medqa/internal/engine"
	"github.com/medqa/medqa/internal/index"
)

const (
	defaultMaxContextTokens = 4000
	defaultMaxRetries       = 3
	initialBackoff          = 500 * time.Millisecond
)

// Error wraps a generation failure. Retryable indicates a transient
// backend condition where repeating the call may help.
type Error struct {
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Retryable {
		return fmt.Sprintf("generation (retryable): %v", e.Err)
	}
	return fmt.Sprintf("generation: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Answer is the structured model response.
type Answer struct {
	Reply                    string   `json:"reply"`
	GuidanceCaution          string   `json:"guidance_caution"`
	AdditionalResourcePrompt string   `json:"additional_resource_prompt"`
	CitedChunkIDs            []string `json:"cited_chunk_ids"`
}

// Generator assembles a context-bounded prompt and requests a structured
// answer from the chat model.
type Generator struct {
	engine           engine.Engine
	model            string
	maxContextTokens int
	maxRetries       int
	logger           *slog.Logger
}

func New(eng engine.Engine, model string, maxContextTokens, maxRetries int, logger *slog.Logger) *Generator {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		engine:           eng,
		model:            model,
		maxContextTokens: maxContextTokens,
		maxRetries:       maxRetries,
		logger:           logger,
	}
}

const systemPrompt = `You are a careful healthcare information assistant. Answer the user's question using ONLY the reference excerpts provided below. Each excerpt is labelled with an id in square brackets.

Rules:
- If the excerpts do not contain the answer, say so plainly in "reply"; never invent medical facts.
- "guidance_caution" must remind the user that this is general information, not a diagnosis, and to consult a healthcare professional.
- "additional_resource_prompt" suggests what the user could read or ask about next.
- "cited_chunk_ids" lists the ids of the excerpts you actually used.`

// Generate builds a prompt from the query and chunks, requests a
// structured answer, and validates the citations. Transient backend
// failures are retried with exponential backoff; exhausting the retries
// yields a retryable Error. Permanent backend rejections are surfaced
// immediately without retry.
func (g *Generator) Generate(ctx context.Context, query string, chunks []index.ScoredEntry, history []engine.Message) (*Answer, error) {
	contextBlock, included := g.buildContext(chunks)

	messages := make([]engine.Message, 0, len(history)+2)
	messages = append(messages, engine.Message{
		Role:    "system",
		Content: systemPrompt + "\n\n[Reference Excerpts]\n" + contextBlock,
	})
	messages = append(messages, history...)
	messages = append(messages, engine.Message{Role: "user", Content: query})

	schema := &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"reply":                      {Type: "string", Description: "Answer grounded in the excerpts"},
			"guidance_caution":           {Type: "string", Description: "Safety caveat for the user"},
			"additional_resource_prompt": {Type: "string", Description: "Suggested follow-up reading or question"},
			"cited_chunk_ids":            {Type: "array", Items: &engine.SchemaProperty{Type: "string"}, Description: "Excerpt ids used in the answer"},
		},
		Required: []string{"reply", "guidance_caution", "additional_resource_prompt"},
	}

	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := g.engine.Chat(ctx, g.model, messages, schema)
		if err != nil {
			if !engine.Retryable(err) {
				return nil, &Error{Retryable: false, Err: err}
			}
			lastErr = err
			g.logger.Warn("chat request failed", "attempt", attempt+1, "error", err)
			continue
		}

		ans, err := parseAnswer(resp)
		if err != nil {
			lastErr = err
			g.logger.Warn("unparseable model response", "attempt", attempt+1, "error", err)
			continue
		}

		ans.CitedChunkIDs = filterCitations(ans.CitedChunkIDs, included)
		return ans, nil
	}

	return nil, &Error{Retryable: true, Err: fmt.Errorf("after %d attempts: %w", g.maxRetries, lastErr)}
}

// buildContext formats chunks into the prompt, highest score first, within
// the token budget. Chunks are included whole or not at all; a chunk that
// does not fit is skipped and smaller ones are still considered. The
// returned set holds the ids that made it into the prompt.
func (g *Generator) buildContext(chunks []index.ScoredEntry) (string, map[string]bool) {
	sorted := make([]index.ScoredEntry, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	included := make(map[string]bool, len(sorted))
	remaining := g.maxContextTokens

	var sb strings.Builder
	for _, ch := range sorted {
		entry := fmt.Sprintf("[%s] (source: %s)\n%s\n\n", ch.ChunkID, ch.Source, ch.Text)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		included[ch.ChunkID] = true
		remaining -= tokens
	}

	if sb.Len() == 0 {
		return "(no relevant excerpts found)\n", included
	}
	return sb.String(), included
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// parseAnswer extracts the structured answer from an LLM response. Small
// local models frequently wrap JSON in markdown code fences or prepend
// conversational filler, so the object is located by brace position after
// stripping fences.
func parseAnswer(resp string) (*Answer, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var ans Answer
	if err := json.Unmarshal([]byte(s[start:end+1]), &ans); err != nil {
		return nil, fmt.Errorf("unmarshal answer: %w", err)
	}
	if strings.TrimSpace(ans.Reply) == "" {
		return nil, fmt.Errorf("empty reply field")
	}
	return &ans, nil
}

// filterCitations drops cited ids that were not part of the prompt, so the
// caller can trust every citation to reference real context.
func filterCitations(cited []string, included map[string]bool) []string {
	out := make([]string, 0, len(cited))
	for _, id := range cited {
		if included[id] {
			out = append(out, id)
		}
	}
	return out
}
