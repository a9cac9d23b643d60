package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category classifies a pipeline failure.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryConversion Category = "conversion"
	CategoryChunking   Category = "chunking"
	CategoryUpload     Category = "upload"
	CategoryRender     Category = "render"
	CategoryNetwork    Category = "network"
	CategorySystem     Category = "system"
)

// Severity ranks how serious a failure category is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var (
	ErrValidation = errors.New("validation error")
	ErrConversion = errors.New("conversion error")
	ErrChunking   = errors.New("chunking error")
	ErrUpload     = errors.New("upload error")
	ErrRender     = errors.New("render error")
	ErrNetwork    = errors.New("network error")
	ErrSystem     = errors.New("system error")
)

// Categorizer is implemented by errors that carry their own category, such as
// HTTP status errors from external clients.
type Categorizer interface {
	ErrorCategory() Category
}

type categoryInfo struct {
	marker      error
	severity    Severity
	recoverable bool
	actions     []string
}

var categories = map[Category]categoryInfo{
	CategoryValidation: {ErrValidation, SeverityMedium, true, []string{"check the input file format and size", "re-upload the video"}},
	CategoryConversion: {ErrConversion, SeverityHigh, true, []string{"retry the job", "reduce output quality"}},
	CategoryChunking:   {ErrChunking, SeverityMedium, true, []string{"retry the job", "use a smaller chunk duration"}},
	CategoryUpload:     {ErrUpload, SeverityHigh, true, []string{"retry the job", "check object storage credentials and capacity"}},
	CategoryRender:     {ErrRender, SeverityHigh, true, []string{"retry the render", "reduce output quality or resolution"}},
	CategoryNetwork:    {ErrNetwork, SeverityMedium, true, []string{"retry with backoff", "check connectivity to external services"}},
	CategorySystem:     {ErrSystem, SeverityCritical, false, []string{"abort the job", "contact the operator"}},
}

// markerOrder fixes the lookup order so the most specific marker wins when an
// error chain carries more than one.
var markerOrder = []Category{
	CategorySystem,
	CategoryValidation,
	CategoryConversion,
	CategoryChunking,
	CategoryUpload,
	CategoryRender,
	CategoryNetwork,
}

// ParseCategory converts a persisted category string back into a Category.
func ParseCategory(value string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	_, ok := categories[c]
	return c, ok
}

// Severity returns the severity for the category. Unknown categories are critical.
func (c Category) Severity() Severity {
	if info, ok := categories[c]; ok {
		return info.severity
	}
	return SeverityCritical
}

// Recoverable reports whether failures in this category may be retried.
func (c Category) Recoverable() bool {
	info, ok := categories[c]
	return ok && info.recoverable
}

// RecoveryActions returns advisory hints for a failed job in this category.
func (c Category) RecoveryActions() []string {
	info, ok := categories[c]
	if !ok {
		return nil
	}
	return append([]string(nil), info.actions...)
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrSystem
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify returns the category carried by err. Errors without a marker are
// treated as network failures when they come from the network stack or a
// deadline, and as system failures otherwise.
func Classify(err error) Category {
	if err == nil {
		return CategorySystem
	}
	var categorizer Categorizer
	if errors.As(err, &categorizer) {
		if c := categorizer.ErrorCategory(); c != "" {
			return c
		}
	}
	for _, c := range markerOrder {
		if errors.Is(err, categories[c].marker) {
			return c
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	return CategorySystem
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
