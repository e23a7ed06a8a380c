package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/research-chat/pkg/chat"
	"github.com/mikeboe/research-chat/pkg/ingest"
)

type Handler struct {
	Chat     *chat.Service
	Sessions *chat.Sessions
	// Knowledge is nil when no database is configured.
	Knowledge *Service
	// MCP is nil when the tool endpoint is disabled.
	MCP http.Handler
}

func NewHandler(c *chat.Service, sessions *chat.Sessions, knowledge *Service, mcpHandler http.Handler) *Handler {
	return &Handler{Chat: c, Sessions: sessions, Knowledge: knowledge, MCP: mcpHandler}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(h.MCP))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.Sessions.Len()})
	})

	api := r.Group("/api")
	{
		api.POST("/sessions", h.createSession)
		api.DELETE("/sessions/:sid", h.deleteSession)

		api.GET("/sessions/:sid/threads", h.listThreads)
		api.POST("/sessions/:sid/threads", h.createThread)
		api.PUT("/sessions/:sid/threads/:tid/active", h.switchThread)
		api.DELETE("/sessions/:sid/threads/:tid", h.deleteThread)
		api.GET("/sessions/:sid/threads/:tid/messages", h.getMessages)
		api.GET("/sessions/:sid/threads/:tid/export", h.exportThread)

		api.POST("/sessions/:sid/messages", h.sendMessage)
		api.POST("/sessions/:sid/attachments", h.attach)
		api.DELETE("/sessions/:sid/attachments", h.clearAttachments)

		if h.Knowledge != nil {
			api.POST("/knowledge/jobs", h.createJob)
			api.GET("/knowledge/jobs", h.listJobs)
			api.GET("/knowledge/jobs/:id", h.getJob)
			api.GET("/knowledge/jobs/:id/logs", h.getJobLogs)
		}
	}
}

type sessionResponse struct {
	ID      string               `json:"id"`
	Active  uuid.UUID            `json:"active_thread"`
	Threads []chat.ThreadSummary `json:"threads"`
}

func (h *Handler) createSession(c *gin.Context) {
	sess := h.Sessions.Create()
	c.JSON(http.StatusCreated, sessionResponse{ID: sess.ID(), Active: sess.ActiveID(), Threads: sess.Threads()})
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.Sessions.Delete(c.Param("sid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// session resolves :sid, writing the error response on failure.
func (h *Handler) session(c *gin.Context) (*chat.Session, bool) {
	sess, err := h.Sessions.Get(c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

func threadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("tid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) listThreads(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Threads())
}

func (h *Handler) createThread(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, sess.NewThread())
}

func (h *Handler) switchThread(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	id, ok := threadID(c)
	if !ok {
		return
	}
	if err := sess.Switch(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Threads())
}

func (h *Handler) deleteThread(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	id, ok := threadID(c)
	if !ok {
		return
	}
	if err := sess.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Threads())
}

func (h *Handler) getMessages(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	id, ok := threadID(c)
	if !ok {
		return
	}
	thread, err := sess.Thread(id)
	if err != nil {
		writeError(c, err)
		return
	}
	msgs := thread.Messages
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) exportThread(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	id, ok := threadID(c)
	if !ok {
		return
	}
	thread, err := sess.Thread(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", "text/markdown; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.md"`, thread.ID))
	c.Status(http.StatusOK)
	_ = chat.ExportMarkdown(c.Writer, thread)
}

func (h *Handler) sendMessage(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req chat.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.Chat.SendMessage(c.Request.Context(), sess, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for event, err := range next {
		if err != nil {
			writeEvent(c, chat.StreamEvent{Type: chat.EventError, Payload: err.Error()})
			return
		}
		if !writeEvent(c, event) {
			return
		}
	}
}

// writeEvent writes one SSE frame and reports whether the client is still
// reachable.
func writeEvent(c *gin.Context, event chat.StreamEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if _, err := c.Writer.Write(frame); err != nil {
		return false
	}
	c.Writer.Flush()
	return c.Request.Context().Err() == nil
}

type attachmentResponse struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Chars   int      `json:"chars,omitempty"`
	Rows    int      `json:"rows,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

func (h *Handler) attach(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fh.Size > ingest.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d MB", ingest.MaxUploadSize>>20)})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, ingest.MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	att, err := h.Chat.Attach(c.Request.Context(), sess, fh.Filename, data)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := attachmentResponse{Name: att.Name}
	if att.Table != nil {
		resp.Kind = "table"
		resp.Rows = len(att.Table.Rows)
		resp.Columns = att.Table.Columns
	} else {
		resp.Kind = "document"
		resp.Chars = len([]rune(att.Document))
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) clearAttachments(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.ClearAttachments()
	c.Status(http.StatusNoContent)
}

func (h *Handler) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Knowledge.CreateJob(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs, err := h.Knowledge.ListJobs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	job, err := h.Knowledge.GetJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Handler) getJobLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	logs, err := h.Knowledge.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrThreadNotFound), errors.Is(err, ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrTurnInProgress):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, ErrInvalidSource):
		status = http.StatusBadRequest
	case errors.Is(err, ingest.ErrUnsupported):
		status = http.StatusUnsupportedMediaType
	case chat.IsKind(err, chat.KindIngestion):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
