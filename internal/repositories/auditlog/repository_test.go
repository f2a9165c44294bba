package auditlog

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncatePayload(t *testing.T) {
	t.Run("under the limit is untouched", func(t *testing.T) {
		assert.Equal(t, "<QBXML/>", truncatePayload("<QBXML/>", 64))
	})

	t.Run("ascii cuts at the limit", func(t *testing.T) {
		got := truncatePayload(strings.Repeat("x", 100), 10)
		assert.Len(t, got, 10)
	})

	t.Run("backs off a split two-byte rune", func(t *testing.T) {
		// "é" is 2 bytes; a cut at byte 3 lands mid-rune
		got := truncatePayload("aaébb", 3)
		assert.Equal(t, "aa", got)
		assert.True(t, utf8.ValidString(got))
	})

	t.Run("backs off a split four-byte rune", func(t *testing.T) {
		payload := "desc \U0001F4B0 total"
		for max := 5; max < 9; max++ {
			got := truncatePayload(payload, max)
			assert.True(t, utf8.ValidString(got), "max=%d", max)
			assert.LessOrEqual(t, len(got), max)
		}
	})

	t.Run("keeps a rune that ends exactly at the limit", func(t *testing.T) {
		got := truncatePayload("aéx", 3)
		assert.Equal(t, "aé", got)
	})
}
