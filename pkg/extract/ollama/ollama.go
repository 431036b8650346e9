// Package ollama implements extract.Extractor against Ollama's generate API
// using JSON-mode prompts.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/engramlabs/engram/pkg/extract"
	"github.com/engramlabs/engram/pkg/knowledge"
)

const (
	// DefaultModel is the default generation model.
	DefaultModel = "llama3.2"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"
)

// Extractor calls Ollama's /api/generate endpoint with JSON-format prompts.
type Extractor struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the Ollama extractor.
type Config struct {
	BaseURL string
	Model   string

	// Timeout bounds a single generation call. Defaults to 120s; extraction
	// runs offline, so the ceiling is generous.
	Timeout time.Duration
}

// NewExtractor creates an extractor backed by Ollama.
func NewExtractor(cfg Config) *Extractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &Extractor{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (e *Extractor) generate(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(generateRequest{
		Model:  e.model,
		Prompt: prompt,
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return genResp.Response, nil
}

const extractPromptHeader = `You are a knowledge extraction system. Given a conversation
transcript, extract durable knowledge the assistant should remember long term.
Respond with a JSON object of the form:
{"candidates": [{"kind": "semantic|procedural|opinion", "content": "...",
"confidence": 0.0, "mentions": [{"name": "...", "type": "person|project|organization|place|concept|tool"}],
"source_episode_ids": ["..."]}]}

Transcript (one episode per line, prefixed by id and role):
`

type extractPayload struct {
	Candidates []extract.Candidate `json:"candidates"`
}

// ExtractKnowledge distills candidate facts from a session's episodes.
func (e *Extractor) ExtractKnowledge(ctx context.Context, episodes []extract.Episode) ([]extract.Candidate, error) {
	if len(episodes) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(extractPromptHeader)
	for _, ep := range episodes {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", ep.ID, ep.Role, ep.Content)
	}

	raw, err := e.generate(ctx, sb.String())
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	var payload extractPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decoding extraction payload: %w", err)
	}

	// Drop malformed candidates instead of failing the batch.
	candidates := payload.Candidates[:0]
	for _, c := range payload.Candidates {
		if c.Content == "" || !c.Kind.Valid() || c.Kind == knowledge.KindEpisodic {
			continue
		}
		if c.Confidence <= 0 || c.Confidence > 1 {
			c.Confidence = 0.7
		}
		candidates = append(candidates, c)
	}

	return candidates, nil
}

const causalPromptHeader = `You are a causal inference system. For each pair of
consecutive conversation episodes below, decide whether the first plausibly
caused the second. Respond with a JSON object:
{"links": [{"cause_id": "...", "effect_id": "...", "confidence": 0.0}]}
Only include pairs with a genuine causal relationship.

Pairs:
`

type causalPayload struct {
	Links []extract.CausalLink `json:"links"`
}

// InferCausalLinks examines consecutive episode pairs for cause/effect.
func (e *Extractor) InferCausalLinks(ctx context.Context, pairs [][2]extract.Episode) ([]extract.CausalLink, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(causalPromptHeader)
	for _, p := range pairs {
		fmt.Fprintf(&sb, "[%s] %s => [%s] %s\n", p[0].ID, p[0].Content, p[1].ID, p[1].Content)
	}

	raw, err := e.generate(ctx, sb.String())
	if err != nil {
		return nil, fmt.Errorf("causal inference call: %w", err)
	}

	var payload causalPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decoding causal payload: %w", err)
	}

	links := payload.Links[:0]
	for _, l := range payload.Links {
		if l.CauseID == "" || l.EffectID == "" {
			continue
		}
		links = append(links, l)
	}

	return links, nil
}

// Summarize produces a profile summary for an entity from knowledge
// mentioning it.
func (e *Extractor) Summarize(ctx context.Context, entityName string, mentions []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Summarize what is known about %q from the notes below in
2-3 sentences. Respond with a JSON object: {"summary": "..."}

Notes:
`, entityName)
	for _, m := range mentions {
		sb.WriteString("- " + m + "\n")
	}

	raw, err := e.generate(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("summarize call: %w", err)
	}

	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("decoding summary payload: %w", err)
	}

	return payload.Summary, nil
}

// Close releases resources held by the extractor.
func (e *Extractor) Close() error {
	return nil
}

var _ extract.Extractor = (*Extractor)(nil)
