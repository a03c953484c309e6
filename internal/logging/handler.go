package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// NewHandler writes text logs to w. If file is not nil, records are additionally written to it as json.
func NewHandler(w io.Writer, file io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	textHandler := slog.NewTextHandler(w, opts)
	if file == nil {
		return textHandler
	}

	return &multiHandler{
		textHandler: textHandler,
		fileHandler: slog.NewJSONHandler(file, opts),
	}
}

type multiHandler struct {
	textHandler slog.Handler
	fileHandler slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.textHandler.Enabled(ctx, level) || h.fileHandler.Enabled(ctx, level)
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if h.textHandler.Enabled(ctx, record.Level) {
		errs = append(errs, h.textHandler.Handle(ctx, record.Clone()))
	}
	if h.fileHandler.Enabled(ctx, record.Level) {
		errs = append(errs, h.fileHandler.Handle(ctx, record))
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &multiHandler{
		textHandler: h.textHandler.WithAttrs(attrs),
		fileHandler: h.fileHandler.WithAttrs(attrs),
	}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	return &multiHandler{
		textHandler: h.textHandler.WithGroup(name),
		fileHandler: h.fileHandler.WithGroup(name),
	}
}
