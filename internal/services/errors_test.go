package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"finalcut/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrChunking, "split_chunks", "ffmpeg", "segment failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrChunking) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"split_chunks", "ffmpeg", "segment failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

type statusErr struct{ code int }

func (e statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }

func (e statusErr) ErrorCategory() services.Category {
	if e.code >= 500 {
		return services.CategoryNetwork
	}
	return services.CategoryValidation
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Category
	}{
		{"validation marker", services.Wrap(services.ErrValidation, "upload", "probe", "bad", nil), services.CategoryValidation},
		{"render marker", fmt.Errorf("outer: %w", services.Wrap(services.ErrRender, "render_video", "submit", "", nil)), services.CategoryRender},
		{"system wins over wrapped network", services.Wrap(services.ErrSystem, "x", "y", "z", services.ErrNetwork), services.CategorySystem},
		{"categorizer", fmt.Errorf("call: %w", statusErr{code: 503}), services.CategoryNetwork},
		{"deadline", fmt.Errorf("poll: %w", context.DeadlineExceeded), services.CategoryNetwork},
		{"unknown", errors.New("nil pointer somewhere"), services.CategorySystem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCategoryTable(t *testing.T) {
	if services.CategorySystem.Recoverable() {
		t.Fatal("system failures must not be recoverable")
	}
	if services.CategorySystem.Severity() != services.SeverityCritical {
		t.Fatalf("unexpected system severity %s", services.CategorySystem.Severity())
	}
	for _, c := range []services.Category{
		services.CategoryValidation, services.CategoryConversion, services.CategoryChunking,
		services.CategoryUpload, services.CategoryRender, services.CategoryNetwork,
	} {
		if !c.Recoverable() {
			t.Fatalf("expected %s to be recoverable", c)
		}
		if len(c.RecoveryActions()) == 0 {
			t.Fatalf("expected recovery actions for %s", c)
		}
	}
	if services.CategoryConversion.Severity() != services.SeverityHigh {
		t.Fatalf("unexpected conversion severity %s", services.CategoryConversion.Severity())
	}
	if c, ok := services.ParseCategory(" Upload "); !ok || c != services.CategoryUpload {
		t.Fatalf("ParseCategory = %q %v", c, ok)
	}
	if _, ok := services.ParseCategory("billing"); ok {
		t.Fatal("expected unknown category to be rejected")
	}
}
