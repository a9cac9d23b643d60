package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-readable line per record:
//
//	2026-01-02T15:04:05Z INFO  [worker] job 0f4c1d2e split_chunks#3: message key=value
//
// Component, job, stage, and chunk attributes are lifted into the prefix;
// everything else trails as key=value pairs with group names dotted in.
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool
	prefix    string
	fields    []field
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = append(append([]field(nil), h.fields...), collect(h.prefix, attrs)...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]field(nil), h.fields...)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, collect(h.prefix, []slog.Attr{a})...)
		return true
	})

	var subject subject
	rest := fields[:0]
	for _, f := range fields {
		if !subject.take(f) {
			rest = append(rest, f)
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, " %-5s ", levelLabel(r.Level))
	if subject.component != "" {
		b.WriteString("[" + subject.component + "] ")
	}
	if s := subject.String(); s != "" {
		b.WriteString(s + ": ")
	}
	if msg := strings.TrimSpace(r.Message); msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString("(no message)")
	}
	if h.addSource && r.PC != 0 {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range rest {
		b.WriteString(" " + f.key + "=" + render(f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// collect flattens attrs, expanding groups into dotted keys.
func collect(prefix string, attrs []slog.Attr) []field {
	var out []field
	for _, a := range attrs {
		if a.Equal(slog.Attr{}) {
			continue
		}
		v := a.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			inner := prefix
			if a.Key != "" {
				inner = prefix + a.Key + "."
			}
			out = append(out, collect(inner, v.Group())...)
			continue
		}
		out = append(out, field{key: prefix + a.Key, value: v})
	}
	return out
}

// subject holds the attributes rendered in the line prefix. The first value
// for each key wins so context-derived attributes are not overridden.
type subject struct {
	component string
	job       string
	stage     string
	chunk     string
}

func (s *subject) take(f field) bool {
	var dst *string
	switch f.key {
	case FieldComponent:
		dst = &s.component
	case FieldJobID:
		dst = &s.job
	case FieldStage:
		dst = &s.stage
	case FieldChunkIndex:
		dst = &s.chunk
	default:
		return false
	}
	if *dst == "" {
		*dst = plain(f.value)
	}
	return true
}

func (s subject) String() string {
	var parts []string
	if s.job != "" {
		job := s.job
		if len(job) > 8 {
			job = job[:8]
		}
		parts = append(parts, "job "+job)
	}
	if s.stage != "" {
		stage := s.stage
		if s.chunk != "" {
			stage += "#" + s.chunk
		}
		parts = append(parts, stage)
	} else if s.chunk != "" {
		parts = append(parts, "chunk "+s.chunk)
	}
	return strings.Join(parts, " ")
}

func plain(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return render(v)
}

func render(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		return v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\r=\"") {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
