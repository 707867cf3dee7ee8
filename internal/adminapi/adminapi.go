// Package adminapi implements the admin HTTP API (spec C16) plus the
// read-only event tail endpoint folded into it (spec C16/former C17 —
// see DESIGN.md on why no protobuf/gRPC service sits alongside this).
// Grounded on the retrieved gin handler style (internal/projection,
// internal/ingestion in the aevon project): one Service struct,
// RegisterRoutes(gin.IRouter), ShouldBind*/error-response-per-failure
// handlers.
package adminapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dcbrun/dcb/internal/processor"
	"github.com/dcbrun/dcb/internal/store"
)

// ErrorResponse is the JSON body returned on any handler failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Service exposes processor control/inspection and an event tail over
// HTTP. It does not own the scheduler's lifecycle — it only reads and
// writes processor_progress and the event log underneath it.
type Service struct {
	Store    store.Store
	Progress *processor.ProgressStore
	// ProcessorIDs lists the known processor ids for GET /processors;
	// the progress table alone can't tell "known but idle" apart from
	// "never existed" for an id nobody asked about yet.
	ProcessorIDs []string
}

func NewService(s store.Store, progress *processor.ProgressStore, processorIDs []string) *Service {
	return &Service{Store: s, Progress: progress, ProcessorIDs: processorIDs}
}

// RegisterRoutes wires every admin API route onto r (spec §4.13 table).
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/processors", s.handleListProcessors)
	r.GET("/processors/:id", s.handleGetProcessor)
	r.GET("/processors/:id/lag", s.handleGetLag)
	r.GET("/processors/:id/backoff", s.handleGetBackoff)
	r.POST("/processors/:id/pause", s.handlePause)
	r.POST("/processors/:id/resume", s.handleResume)
	r.POST("/processors/:id/reset", s.handleReset)
	r.GET("/tail", s.handleTail)
}

func (s *Service) known(id string) bool {
	for _, p := range s.ProcessorIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (s *Service) handleListProcessors(c *gin.Context) {
	out := make([]processor.Progress, 0, len(s.ProcessorIDs))
	for _, id := range s.ProcessorIDs {
		pr, err := s.Progress.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		out = append(out, pr)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Service) handleGetProcessor(c *gin.Context) {
	id := c.Param("id")
	if !s.known(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown processor: " + id})
		return
	}
	pr, err := s.Progress.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, pr)
}

type lagResponse struct {
	ProcessorID     string `json:"processor_id"`
	LastPosition    int64  `json:"last_position"`
	CurrentPosition int64  `json:"current_position"`
	Lag             int64  `json:"lag"`
}

func (s *Service) handleGetLag(c *gin.Context) {
	id := c.Param("id")
	if !s.known(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown processor: " + id})
		return
	}
	pr, err := s.Progress.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	current, err := s.Store.CurrentPosition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, lagResponse{
		ProcessorID:     id,
		LastPosition:    pr.LastPosition,
		CurrentPosition: current,
		Lag:             current - pr.LastPosition,
	})
}

type backoffResponse struct {
	ProcessorID string `json:"processor_id"`
	ErrorCount  int    `json:"error_count"`
	LastError   string `json:"last_error,omitempty"`
}

func (s *Service) handleGetBackoff(c *gin.Context) {
	id := c.Param("id")
	if !s.known(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown processor: " + id})
		return
	}
	pr, err := s.Progress.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, backoffResponse{ProcessorID: id, ErrorCount: pr.ErrorCount, LastError: pr.LastError})
}

func (s *Service) handlePause(c *gin.Context) {
	s.mutateStatus(c, s.Progress.Pause)
}

func (s *Service) handleResume(c *gin.Context) {
	s.mutateStatus(c, s.Progress.Resume)
}

// handleReset rewinds a processor's checkpoint, optionally to an
// explicit ?to_position= instead of the start of the log.
func (s *Service) handleReset(c *gin.Context) {
	target := int64(0)
	if raw := c.Query("to_position"); raw != "" {
		pos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to_position: " + raw})
			return
		}
		target = pos
	}
	s.mutateStatus(c, func(ctx context.Context, processorID string) error {
		return s.Progress.ResetToPosition(ctx, processorID, target)
	})
}

// mutateStatus applies a ProgressStore mutation to the :id path param and
// reports the resulting checkpoint, or 404 if the processor id is unknown.
func (s *Service) mutateStatus(c *gin.Context, apply func(ctx context.Context, processorID string) error) {
	id := c.Param("id")
	if !s.known(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown processor: " + id})
		return
	}
	if err := apply(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	pr, err := s.Progress.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, pr)
}

// handleTail streams events matching ?types=&tags=k=v&after=<position>
// as newline-delimited JSON, the lowest-risk read-only substitute for a
// generated-protobuf streaming service (see DESIGN.md).
func (s *Service) handleTail(c *gin.Context) {
	var items []store.QueryItem
	var types []string
	if raw := c.Query("types"); raw != "" {
		types = strings.Split(raw, ",")
	}
	var tags []store.Tag
	for _, kv := range c.QueryArray("tags") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed tag filter: " + kv})
			return
		}
		tags = append(tags, store.NewTag(k, v))
	}
	if len(types) > 0 || len(tags) > 0 {
		items = append(items, store.NewQueryItem(types, tags))
	}

	var q store.Query = store.EmptyQuery()
	if len(items) > 0 {
		q = store.NewQuery(items...)
	}

	after := store.ZeroCursor
	if raw := c.Query("after"); raw != "" {
		pos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after position: " + raw})
			return
		}
		after = store.Cursor{Position: pos}
	}

	events, err := s.Store.Read(c.Request.Context(), q, after, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	w := bufio.NewWriter(c.Writer)
	defer w.Flush()
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(tailEvent{
			Type:     e.Type,
			Position: e.Position,
			Tags:     encodeTags(e.Tags),
			Data:     e.Data,
		}); err != nil {
			return
		}
	}
}

type tailEvent struct {
	Type     string   `json:"type"`
	Position int64    `json:"position"`
	Tags     []string `json:"tags"`
	Data     []byte   `json:"data"`
}

func encodeTags(tags []store.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Key() + "=" + t.Value()
	}
	return out
}
