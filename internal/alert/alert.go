// Package alert delivers operator alerts. Delivery is best-effort: a failed
// send is logged and reported as false, never returned as an error.
package alert

import (
	"context"
	"strings"
	"unicode/utf16"

	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
)

// TruncationMarker is appended to alerts cut to fit the channel limit.
const TruncationMarker = "\n…[truncated]"

const codeFence = "```"

// Sink sends one alert message.
type Sink interface {
	Send(ctx context.Context, text string) bool
}

// Truncate shortens text to at most max UTF-16 code units, the unit Telegram
// measures message length in: an emoji outside the BMP costs two. A code
// fence opened in the kept part is closed before the marker is appended.
func Truncate(text string, max int) string {
	if UTF16Len(text) <= max {
		return text
	}

	markerLen := UTF16Len(TruncationMarker)
	if max <= markerLen {
		return prefixUTF16(TruncationMarker, max)
	}

	budget := max - markerLen
	cut := prefixUTF16(text, budget)
	if strings.Count(cut, codeFence)%2 == 1 {
		closing := "\n" + codeFence
		budget -= UTF16Len(closing)
		if budget < 0 {
			budget = 0
		}
		cut = prefixUTF16(text, budget)
		if strings.Count(cut, codeFence)%2 == 1 {
			cut += closing
		}
	}
	return cut + TruncationMarker
}

// UTF16Len counts s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

// prefixUTF16 returns the longest rune-aligned prefix of s within units.
func prefixUTF16(s string, units int) string {
	n := 0
	for i, r := range s {
		l := runeUnits(r)
		if n+l > units {
			return s[:i]
		}
		n += l
	}
	return s
}

func runeUnits(r rune) int {
	if l := utf16.RuneLen(r); l > 0 {
		return l
	}
	return 1
}

// LogSink writes alerts to the log. Used when no operator channel is
// configured.
type LogSink struct {
	log     *logger.Logger
	maxLen  int
	metrics *metrics.Metrics
}

func NewLogSink(log *logger.Logger, maxLen int, m *metrics.Metrics) *LogSink {
	return &LogSink{log: log, maxLen: maxLen, metrics: m}
}

func (s *LogSink) Send(ctx context.Context, text string) bool {
	s.log.WarnCtx(ctx, "operator alert", logger.Field{Key: "alert", Value: Truncate(text, s.maxLen)})
	s.metrics.Alert(true)
	return true
}
