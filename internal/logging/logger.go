// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical sits above slog.LevelError: only the standalone CLI
// tools treat it specially (process exit 127, spec.md §6/§7); the
// long-running service never does. VERBOSE, the original
// implementation's third level between debug and info, collapses into
// slog.LevelDebug here rather than getting its own value — this
// repository keeps two effective severities below warn/error, per the
// level-collapsing Open Question resolution in DESIGN.md.
const LevelCritical = slog.LevelError + 4

// NewLogger cria um slog.Logger configurado com o nível, formato e output especificados.
// Formatos suportados: "json" (default) e "text".
// Níveis suportados: "verbose"/"debug", "info" (default), "warn", "error", "critical".
// Se filePath não for vazio, grava logs em stdout + file (MultiWriter).
// Retorna o logger e um io.Closer que deve ser chamado no shutdown para fechar o arquivo.
// Se filePath for vazio, o Closer retornado é um no-op.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Se não conseguir abrir o arquivo, loga stderr e continua só com stdout
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "verbose", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// criticalExitHandler wraps a slog.Handler and os.Exit(127)s after a
// LevelCritical record is emitted — the CLI tools' "supervisor trap"
// (spec.md §6/§7). Never used by the long-running service, which must
// never crash the process on a log call.
type criticalExitHandler struct {
	slog.Handler
	exit func(int)
}

func (h criticalExitHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.Handler.Handle(ctx, r)
	if r.Level >= LevelCritical {
		h.exit(127)
	}
	return err
}

func (h criticalExitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return criticalExitHandler{Handler: h.Handler.WithAttrs(attrs), exit: h.exit}
}

func (h criticalExitHandler) WithGroup(name string) slog.Handler {
	return criticalExitHandler{Handler: h.Handler.WithGroup(name), exit: h.exit}
}

// NewCLILogger builds a logger identical to NewLogger but where a
// LevelCritical record terminates the process with exit code 127,
// matching the standalone transfer tool's CLI surface (spec.md §6).
func NewCLILogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	return newCLILogger(level, format, filePath, os.Exit)
}

func newCLILogger(level, format, filePath string, exit func(int)) (*slog.Logger, io.Closer) {
	logger, closer := NewLogger(level, format, filePath)
	wrapped := criticalExitHandler{Handler: logger.Handler(), exit: exit}
	return slog.New(wrapped), closer
}
