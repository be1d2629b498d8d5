package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexora/internal/models"
)

func testPosts(n int) []models.Post {
	posts := make([]models.Post, n)
	for i := range posts {
		posts[i] = models.Post{
			ID:        int64(i + 1),
			Title:     "post",
			CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		}
	}
	return posts
}

func printedRows(t *testing.T, posts []models.Post, limit int) []string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writePosts(&buf, posts, limit))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	return lines[1:]
}

func TestWritePostsLimit(t *testing.T) {
	posts := testPosts(5)

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"below count", 2, 2},
		{"above count", 10, 5},
		{"zero prints all", 0, 5},
		{"negative prints all", -1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, printedRows(t, posts, tt.limit), tt.want)
		})
	}
}

func TestWritePostsColumns(t *testing.T) {
	count := 3
	posts := testPosts(1)
	posts[0].LikeCount = &count
	rows := printedRows(t, posts, 0)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "2024-01-02", "3", "0", "post"}, strings.Fields(rows[0]))
}
