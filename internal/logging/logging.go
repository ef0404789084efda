// Package logging builds the process logger: coloured single-line output on
// a terminal, logfmt otherwise.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Options selects what gets logged
type Options struct {
	Debug  bool  // include debug records
	Errors bool  // include error records
	Pretty *bool // force the terminal format on or off; nil detects
}

// New returns a logger writing to w
func New(w io.Writer, opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	pretty := isTerminal(w)
	if opts.Pretty != nil {
		pretty = *opts.Pretty
	}

	var h slog.Handler
	if pretty {
		h = NewPrettyHandler(w, level)
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	if !opts.Errors {
		h = &dropErrors{Handler: h}
	}
	return slog.New(h)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// dropErrors discards records at error level and above
type dropErrors struct {
	slog.Handler
}

func (d *dropErrors) Enabled(ctx context.Context, level slog.Level) bool {
	return level < slog.LevelError && d.Handler.Enabled(ctx, level)
}

func (d *dropErrors) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return nil
	}
	return d.Handler.Handle(ctx, r)
}

func (d *dropErrors) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dropErrors{Handler: d.Handler.WithAttrs(attrs)}
}

func (d *dropErrors) WithGroup(name string) slog.Handler {
	return &dropErrors{Handler: d.Handler.WithGroup(name)}
}
