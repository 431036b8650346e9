package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

// EpisodeRequest is the ingestion payload for one dialogue turn.
type EpisodeRequest struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// ContextRequest asks for a pre-turn memory context.
type ContextRequest struct {
	Query       string `json:"query"`
	SessionID   string `json:"session_id"`
	TokenBudget int    `json:"token_budget"`
}

// FactRequest explicitly stores or corrects a fact.
type FactRequest struct {
	Content  string           `json:"content"`
	Kind     knowledge.Kind   `json:"kind,omitempty"`
	Mentions []MentionRequest `json:"mentions,omitempty"`
}

// MentionRequest names an entity referenced by a fact.
type MentionRequest struct {
	Name string               `json:"name"`
	Type knowledge.EntityType `json:"type,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleRecordEpisode ingests one dialogue turn on the synchronous hot path.
func (s *Server) handleRecordEpisode(c *fiber.Ctx) error {
	var req EpisodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	nodeID, err := s.engine.RecordEpisode(c.Context(), req.SessionID, req.Role, req.Content)
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"node_id": nodeID})
}

// handleGetContext assembles a token-budgeted memory context for the next
// agent turn. 204 means nothing relevant was found; the host injects nothing.
func (s *Server) handleGetContext(c *fiber.Ctx) error {
	var req ContextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	block, err := s.engine.GetContext(c.Context(), req.Query, req.SessionID, req.TokenBudget)
	if err != nil {
		return s.fail(c, err)
	}
	if block == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	return c.JSON(block)
}

// handleSearch runs a full-text query over active knowledge.
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "q parameter required"})
	}

	var kinds []knowledge.Kind
	if kind := c.Query("kind"); kind != "" {
		kinds = append(kinds, knowledge.Kind(kind))
	}

	nodes, err := s.engine.Search(c.Context(), query, kinds, c.QueryInt("limit"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{"count": len(nodes), "results": nodes})
}

// handleRememberFact explicitly stores a fact, bypassing extraction.
func (s *Server) handleRememberFact(c *fiber.Ctx) error {
	var req FactRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	node, err := s.engine.RememberFact(c.Context(), req.Content, req.Kind, toMentions(req.Mentions))
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(node)
}

// handleCorrectFact supersedes a stored fact with a replacement.
func (s *Server) handleCorrectFact(c *fiber.Ctx) error {
	var req FactRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	node, err := s.engine.CorrectFact(c.Context(), c.Params("id"), req.Content)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(node)
}

// handleConfirmFact protects a fact from decay.
func (s *Server) handleConfirmFact(c *fiber.Ctx) error {
	if err := s.engine.ConfirmFact(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleExplain traces a fact's provenance, including retired history.
func (s *Server) handleExplain(c *fiber.Ctx) error {
	explanation, err := s.engine.Explain(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(explanation)
}

// handleListLowConfidence lists decayable facts near eviction.
func (s *Server) handleListLowConfidence(c *fiber.Ctx) error {
	threshold, err := strconv.ParseFloat(c.Query("threshold", "0.3"), 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid threshold"})
	}

	nodes, err := s.engine.ListLowConfidence(c.Context(), threshold, c.QueryInt("limit"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{"count": len(nodes), "results": nodes})
}

// handleEntityProfile fetches an entity by id, name, or alias with its
// linked knowledge.
func (s *Server) handleEntityProfile(c *fiber.Ctx) error {
	profile, err := s.engine.EntityProfile(c.Context(), c.Params("name"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(profile)
}

// handleStats returns an aggregate snapshot of the store.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.engine.Stats(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(stats)
}

// handleMaintain runs a named maintenance task synchronously and returns its
// result. Session-scoped tasks read the session_id query parameter.
func (s *Server) handleMaintain(c *fiber.Ctx) error {
	result, err := s.engine.Maintain(c.Context(), c.Params("task"), c.Query("session_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(result)
}

// fail maps engine errors to HTTP statuses: missing rows are 404, boundary
// rejections are 400, everything else is 500.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, knowledge.ErrInvalid), errors.Is(err, storage.ErrMissingNode):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	s.logger.Error("request failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}

func toMentions(reqs []MentionRequest) []knowledge.Mention {
	mentions := make([]knowledge.Mention, 0, len(reqs))
	for _, m := range reqs {
		t := m.Type
		if t == "" {
			t = knowledge.EntityConcept
		}
		mentions = append(mentions, knowledge.Mention{Name: m.Name, Type: t})
	}
	return mentions
}
