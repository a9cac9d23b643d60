package timeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TimestampFormat disambiguates three-part timestamps.
type TimestampFormat string

const (
	// FormatHMS reads A:B:C as hours:minutes:seconds.
	FormatHMS TimestampFormat = "hms"
	// FormatMSF reads A:B:C as minutes:seconds:frames and needs a frame rate.
	FormatMSF TimestampFormat = "msf"
)

// ErrInvalidTimestamp is wrapped by every ParseTimestamp failure.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ParseTimestampFormat validates a configured format name.
func ParseTimestampFormat(value string) (TimestampFormat, error) {
	switch f := TimestampFormat(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatHMS, FormatMSF:
		return f, nil
	case "":
		return FormatHMS, nil
	default:
		return "", fmt.Errorf("unsupported timestamp format %q", value)
	}
}

// ParseTimestamp converts "SS[.s]", "MM:SS[.s]", or a three-part timestamp to
// seconds. Three-part values are read according to format; FormatMSF requires
// fps > 0. A trailing "s" on plain seconds is accepted.
func ParseTimestamp(value string, format TimestampFormat, fps float64) (float64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 1:
		secs, err := parseComponent(strings.TrimSuffix(raw, "s"), true)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, value, err)
		}
		return secs, nil
	case 2:
		minutes, err := parseComponent(parts[0], false)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: minutes: %v", ErrInvalidTimestamp, value, err)
		}
		secs, err := parseSeconds(parts[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %q: seconds: %v", ErrInvalidTimestamp, value, err)
		}
		return minutes*60 + secs, nil
	case 3:
		return parseThreePart(value, parts, format, fps)
	default:
		return 0, fmt.Errorf("%w: %q: too many components", ErrInvalidTimestamp, value)
	}
}

func parseThreePart(value string, parts []string, format TimestampFormat, fps float64) (float64, error) {
	first, err := parseComponent(parts[0], false)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, value, err)
	}
	second, err := parseComponent(parts[1], false)
	if err != nil || second >= 60 {
		return 0, fmt.Errorf("%w: %q: middle component must be an integer below 60", ErrInvalidTimestamp, value)
	}
	switch format {
	case FormatHMS, "":
		secs, err := parseSeconds(parts[2])
		if err != nil {
			return 0, fmt.Errorf("%w: %q: seconds: %v", ErrInvalidTimestamp, value, err)
		}
		return first*3600 + second*60 + secs, nil
	case FormatMSF:
		if fps <= 0 {
			return 0, fmt.Errorf("%w: %q: frame timestamps need a frame rate", ErrInvalidTimestamp, value)
		}
		frames, err := parseComponent(parts[2], false)
		if err != nil || frames >= fps {
			return 0, fmt.Errorf("%w: %q: frame component must be an integer below %.3f", ErrInvalidTimestamp, value, fps)
		}
		return first*60 + second + frames/fps, nil
	default:
		return 0, fmt.Errorf("%w: unknown format %q", ErrInvalidTimestamp, format)
	}
}

// parseSeconds accepts a seconds component below 60, with optional fraction.
func parseSeconds(s string) (float64, error) {
	v, err := parseComponent(s, true)
	if err != nil {
		return 0, err
	}
	if v >= 60 {
		return 0, errors.New("must be below 60")
	}
	return v, nil
}

func parseComponent(s string, allowFraction bool) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty component")
	}
	if !allowFraction && strings.ContainsAny(s, ".eE") {
		return 0, errors.New("must be an integer")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if !finite(v) || v < 0 {
		return 0, errors.New("must be a non-negative number")
	}
	return v, nil
}
