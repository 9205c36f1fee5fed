package text

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSnippet(t *testing.T) {
	t.Run("Short content returned whole", func(t *testing.T) {
		assert.Equal(t, "short text", Snippet("  short text ", []string{"text"}, 50))
	})

	t.Run("Prefix when no keyword", func(t *testing.T) {
		content := strings.Repeat("abcde ", 40)
		got := Snippet(content, []string{"zzz"}, 20)
		assert.True(t, strings.HasPrefix(got, "abcde"))
		assert.True(t, strings.HasSuffix(got, ellipsis))
	})

	t.Run("Centered on keyword", func(t *testing.T) {
		content := strings.Repeat("filler ", 50) + "capital city" + strings.Repeat(" filler", 50)
		got := Snippet(content, []string{"capital"}, 40)
		assert.Contains(t, got, "capital")
		assert.True(t, strings.HasPrefix(got, ellipsis))
		body := strings.TrimSuffix(strings.TrimPrefix(got, ellipsis), ellipsis)
		assert.LessOrEqual(t, utf8.RuneCountInString(body), 40)
	})

	t.Run("Hangul keyword", func(t *testing.T) {
		content := strings.Repeat("가나다 ", 30) + "수도는 서울" + strings.Repeat(" 라마바", 30)
		got := Snippet(content, []string{"수도"}, 20)
		assert.Contains(t, got, "수도")
	})
}
