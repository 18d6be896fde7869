package alert

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{name: "short text unchanged", text: "job failed", max: 100, want: "job failed"},
		{name: "exact length unchanged", text: strings.Repeat("a", 64), max: 64, want: strings.Repeat("a", 64)},
		{
			name: "plain text cut",
			text: strings.Repeat("a", 100),
			max:  50,
			want: strings.Repeat("a", 50-UTF16Len(TruncationMarker)) + TruncationMarker,
		},
		{
			name: "tiny limit",
			text: strings.Repeat("a", 100),
			max:  3,
			want: "\n…[",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.text, tt.max))
		})
	}
}

func TestTruncate_ClosesOpenFence(t *testing.T) {
	text := "❌ Job payroll failed (exit code 2)\n```\n" + strings.Repeat("traceback line\n", 50) + "```"

	got := Truncate(text, 120)

	assert.LessOrEqual(t, UTF16Len(got), 120)
	assert.True(t, strings.HasSuffix(got, "\n```"+TruncationMarker))
	assert.Equal(t, 0, strings.Count(got, "```")%2)
}

func TestTruncate_ClosedFenceUntouched(t *testing.T) {
	text := "```\nshort\n```\n" + strings.Repeat("b", 200)

	got := Truncate(text, 80)

	assert.Equal(t, 2, strings.Count(got, "```"))
	assert.True(t, strings.HasSuffix(got, "b"+TruncationMarker))
}

func TestTruncate_NeverExceedsLimit(t *testing.T) {
	base := "ошибка ```" + strings.Repeat("ж", 300)
	for max := 1; max < 320; max++ {
		got := Truncate(base, max)
		assert.LessOrEqual(t, UTF16Len(got), max, "max=%d", max)
	}
}

func TestTruncate_CountsUTF16Units(t *testing.T) {
	// 🔥 вне BMP: две единицы UTF-16 на символ
	text := strings.Repeat("🔥", 100)
	require.Equal(t, 200, UTF16Len(text))

	got := Truncate(text, 64)

	assert.LessOrEqual(t, UTF16Len(got), 64)
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.True(t, utf8.ValidString(got))
	kept := strings.TrimSuffix(got, TruncationMarker)
	assert.Equal(t, (64-UTF16Len(TruncationMarker))/2, utf8.RuneCountInString(kept))

	assert.Equal(t, strings.Repeat("🔥", 32), Truncate(strings.Repeat("🔥", 32), 64))
}

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 0, UTF16Len(""))
	assert.Equal(t, 3, UTF16Len("abc"))
	assert.Equal(t, 6, UTF16Len("ошибка"))
	assert.Equal(t, 3, UTF16Len("a🚨"))
}

func TestLogSink(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := NewLogSink(logger.NewWithWriter(buf, "debug", "json"), 64, metrics.NewNop())

	ok := sink.Send(context.Background(), strings.Repeat("x", 200))

	assert.True(t, ok)
	assert.Contains(t, buf.String(), "operator alert")
	assert.Contains(t, buf.String(), "[truncated]")
}
