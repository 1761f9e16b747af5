package post

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSourceID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://x.com/user/status/12345", "12345"},
		{"https://twitter.com/user/status/1790000000000000001?s=20", "1790000000000000001"},
		{"https://x.com/user/status/42/photo/1", "42"},
		{"https://x.com/user", ""},
		{"https://x.com/user/status/abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSourceID(tt.url))
		})
	}
}

func TestNormalizeMediaURL(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"https://pbs.twimg.com/media/A.jpg?format=jpg&name=small", "https://pbs.twimg.com/media/A.jpg" + MediaSuffix},
		{"https://pbs.twimg.com/media/B", "https://pbs.twimg.com/media/B" + MediaSuffix},
		{"https://pbs.twimg.com/media/C?x=1?y=2", "https://pbs.twimg.com/media/C" + MediaSuffix},
	}
	for _, tt := range tests {
		got := NormalizeMediaURL(tt.src)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, NormalizeMediaURL(got), "normalizing twice must not change %s", tt.src)
	}
}

func TestNewRecordFallbacks(t *testing.T) {
	rec := NewRecord("https://x.com/a/status/7")

	assert.Equal(t, "7", rec.SourceID)
	assert.Equal(t, BodyNotFound, rec.Body)
	assert.Equal(t, UnknownAuthor, rec.AuthorName)
	assert.Equal(t, UnknownAuthor, rec.AuthorHandle)
	assert.NotNil(t, rec.MediaURLs)
	assert.Empty(t, rec.MediaURLs)
	assert.Nil(t, rec.PostedAt)
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "7", NewRecord("https://x.com/a/status/7").IdentityKey())
	assert.Equal(t, "https://example.com/page", NewRecord("https://example.com/page").IdentityKey())
}
