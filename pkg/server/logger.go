package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/research-chat/pkg/database"
)

// DBLogHandler is a slog.Handler that writes records of one ingest job to the
// ingest_logs table. Records are also passed to Next when it is set, tagged
// with job_id.
type DBLogHandler struct {
	DB    *database.PostgresDB
	JobID uuid.UUID
	Next  slog.Handler

	attrs  []slog.Attr
	prefix string
}

func NewDBLogHandler(db *database.PostgresDB, jobID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{
		DB:    db,
		JobID: jobID,
		Next:  next,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		rec := r.Clone()
		rec.AddAttrs(slog.String("job_id", h.JobID.String()))
		_ = h.Next.Handle(ctx, rec)
	}
	if h.DB == nil {
		return nil
	}

	metaJSON, err := json.Marshal(h.metadata(r))
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO ingest_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Job logs must persist even when the job context is cancelled.
	_, err = h.DB.Pool.Exec(context.WithoutCancel(ctx), query, h.JobID, r.Time, r.Level.String(), r.Message, metaJSON)
	return err
}

// metadata flattens handler and record attributes into one JSON object.
func (h *DBLogHandler) metadata(r slog.Record) map[string]any {
	meta := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(meta, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(meta, h.prefix, a)
		return true
	})
	return meta
}

func addAttr(meta map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(meta, prefix+a.Key+".", ga)
		}
		return
	}
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			meta[prefix+a.Key] = err.Error()
			return
		}
		meta[prefix+a.Key] = v.Any()
	case slog.KindDuration:
		meta[prefix+a.Key] = v.Duration().String()
	default:
		meta[prefix+a.Key] = v.Any()
	}
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	if h.Next != nil {
		c.Next = h.Next.WithAttrs(attrs)
	}
	return &c
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	if h.Next != nil {
		c.Next = h.Next.WithGroup(name)
	}
	return &c
}
