package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "http://localhost:8080/files/")
	require.NoError(t, err)
	ctx := context.Background()

	key := "statements/u1/2024-05.csv"
	require.NoError(t, s.Put(ctx, key, strings.NewReader("a,b\n"), "text/csv"))

	data, err := os.ReadFile(filepath.Join(dir, "statements", "u1", "2024-05.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	u, err := s.DownloadURL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/statements/u1/2024-05.csv", u)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	err = s.Put(context.Background(), "../escape.csv", strings.NewReader("x"), "text/csv")
	assert.Error(t, err)
}
