package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/andresouza/chatd/internal/adapter/ollama"
	"github.com/andresouza/chatd/internal/domain"
	"github.com/andresouza/chatd/internal/service"
)

// Handler handles chat HTTP requests.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new chat handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/chat/messages", h.SendMessage)
	e.POST("/api/chat/messages/stream", h.SendMessageStream)
	e.POST("/api/chat/messages/:id/attachments", h.AttachFile)
	e.GET("/api/models", h.ListModels)
	e.GET("/api/health", h.Health)
}

type sendMessageRequest struct {
	SessionID   string          `json:"sessionId,omitempty"`
	Content     string          `json:"content"`
	Model       string          `json:"model,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"maxTokens,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r *sendMessageRequest) validate() error {
	if r.Content == "" {
		return errors.New("content is required")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.MaxTokens < 0 || r.MaxTokens > 4000 {
		return errors.New("maxTokens must be between 1 and 4000")
	}
	return nil
}

func (r *sendMessageRequest) chatOptions() service.ChatOptions {
	return service.ChatOptions{
		Model:       r.Model,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Metadata:    r.Metadata,
	}
}

// SendMessage handles a buffered chat exchange.
// POST /api/chat/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	result, err := h.svc.SendMessage(c.Request().Context(), req.SessionID, req.Content, req.chatOptions())
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// streamEnvelope is one SSE payload: a delta while streaming, then the final
// result.
type streamEnvelope struct {
	Response string                     `json:"response,omitempty"`
	Done     bool                       `json:"done"`
	Result   *service.SendMessageResult `json:"result,omitempty"`
}

// SendMessageStream handles a streamed chat exchange over SSE.
// POST /api/chat/messages/stream
func (h *Handler) SendMessageStream(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	opts := req.chatOptions()
	opts.OnDelta = func(fragment, fullText string, done bool) {
		// The terminal invocation may still carry a coalesced fragment; flush
		// it so clients that concatenate deltas see the full text. The result
		// itself travels in the final envelope.
		if fragment != "" {
			writeSSE(c.Response().Writer, flusher, streamEnvelope{Response: fragment})
		}
	}

	result, err := h.svc.SendMessage(c.Request().Context(), req.SessionID, req.Content, opts)
	if err != nil {
		// Headers are already out; signal the failure in-band.
		writeSSE(c.Response().Writer, flusher, streamEnvelope{Done: true})
		return nil
	}

	writeSSE(c.Response().Writer, flusher, streamEnvelope{Done: true, Result: result})
	return nil
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload streamEnvelope) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

type attachRequest struct {
	Type           string          `json:"type"`
	URL            string          `json:"url"`
	Filename       string          `json:"filename,omitempty"`
	OriginalPrompt string          `json:"originalPrompt,omitempty"`
	Metadata       domain.Metadata `json:"metadata,omitempty"`
}

// AttachFile appends an attachment to a message.
// POST /api/chat/messages/:id/attachments
func (h *Handler) AttachFile(c echo.Context) error {
	var req attachRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.URL == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "url is required"})
	}
	if req.Type == "" {
		req.Type = "image"
	}

	msg, err := h.svc.AttachFile(c.Request().Context(), c.Param("id"), domain.Attachment{
		Type:           req.Type,
		URL:            req.URL,
		Filename:       req.Filename,
		OriginalPrompt: req.OriginalPrompt,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

// ListModels returns the models available on the backend.
// GET /api/models
func (h *Handler) ListModels(c echo.Context) error {
	models := h.svc.ListModels(c.Request().Context())
	if models == nil {
		// An unreachable backend yields an empty list, not an error.
		models = []ollama.Model{}
	}
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}

// Health reports backend availability.
// GET /api/health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Status(c.Request().Context()))
}

func (h *Handler) serviceError(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrMessageNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
