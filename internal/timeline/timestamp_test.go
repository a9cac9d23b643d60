package timeline_test

import (
	"errors"
	"math"
	"testing"

	"finalcut/internal/timeline"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in     string
		format timeline.TimestampFormat
		fps    float64
		want   float64
	}{
		{"42", timeline.FormatHMS, 0, 42},
		{"12.5s", timeline.FormatHMS, 0, 12.5},
		{"01:30", timeline.FormatHMS, 0, 90},
		{"1:05.5", timeline.FormatHMS, 0, 65.5},
		{"75:00", timeline.FormatHMS, 0, 4500},
		{"01:02:03", timeline.FormatHMS, 0, 3723},
		{"00:10:15.25", timeline.FormatHMS, 0, 615.25},
		{"01:02:12", timeline.FormatMSF, 24, 62.5},
		{"00:01:00", timeline.FormatMSF, 30, 1},
		{" 02:00 ", timeline.FormatMSF, 30, 120},
	}
	for _, tc := range cases {
		got, err := timeline.ParseTimestamp(tc.in, tc.format, tc.fps)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q, %s): %v", tc.in, tc.format, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ParseTimestamp(%q, %s) = %v, want %v", tc.in, tc.format, got, tc.want)
		}
	}
}

func TestParseTimestampRejects(t *testing.T) {
	cases := []struct {
		in     string
		format timeline.TimestampFormat
		fps    float64
	}{
		{"", timeline.FormatHMS, 0},
		{"abc", timeline.FormatHMS, 0},
		{"-3", timeline.FormatHMS, 0},
		{"01:75", timeline.FormatHMS, 0},
		{"1.5:10", timeline.FormatHMS, 0},
		{"01:02:03:04", timeline.FormatHMS, 0},
		{"01:60:00", timeline.FormatHMS, 0},
		{"00:01:10", timeline.FormatMSF, 0},
		{"00:01:30", timeline.FormatMSF, 30},
		{"NaN", timeline.FormatHMS, 0},
	}
	for _, tc := range cases {
		if _, err := timeline.ParseTimestamp(tc.in, tc.format, tc.fps); !errors.Is(err, timeline.ErrInvalidTimestamp) {
			t.Fatalf("ParseTimestamp(%q, %s): expected ErrInvalidTimestamp, got %v", tc.in, tc.format, err)
		}
	}
}

func TestParseTimestampFormat(t *testing.T) {
	if f, err := timeline.ParseTimestampFormat(""); err != nil || f != timeline.FormatHMS {
		t.Fatalf("empty format = %q %v", f, err)
	}
	if f, err := timeline.ParseTimestampFormat("MSF"); err != nil || f != timeline.FormatMSF {
		t.Fatalf("MSF = %q %v", f, err)
	}
	if _, err := timeline.ParseTimestampFormat("guess"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
