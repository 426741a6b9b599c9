package repositories

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-worker/cache"
)

func TestFileArtifactStore_WriteThenRead(t *testing.T) {
	root := t.TempDir()
	store := NewFileArtifactStore(root)
	ctx := context.Background()

	paths, err := store.Write(ctx, []cache.StoredArtifact{
		{Bucket: "listings", Fingerprint: "abc", Extension: "json", Payload: `{"a":1}`},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "listings", "abc.json")}, paths)

	payload, ok, err := store.Read(ctx, "listings", "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, payload)
}

func TestFileArtifactStore_ReadMissing(t *testing.T) {
	payload, ok, err := NewFileArtifactStore(t.TempDir()).Read(context.Background(), "profiles", "nope")

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, payload)
}

func TestFileArtifactStore_IdenticalContentIsNotRewritten(t *testing.T) {
	root := t.TempDir()
	store := NewFileArtifactStore(root)
	ctx := context.Background()
	artifact := cache.StoredArtifact{Bucket: "profiles", Fingerprint: "f1", Extension: "html", Payload: "<html></html>"}

	_, err := store.Write(ctx, []cache.StoredArtifact{artifact})
	require.NoError(t, err)
	target := filepath.Join(root, "profiles", "f1.html")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(target, old, old))

	_, err = store.Write(ctx, []cache.StoredArtifact{artifact})
	require.NoError(t, err)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.WithinDuration(t, old, info.ModTime(), time.Second)
}

func TestFileArtifactStore_ReplacesOtherExtension(t *testing.T) {
	root := t.TempDir()
	store := NewFileArtifactStore(root)
	ctx := context.Background()

	_, err := store.Write(ctx, []cache.StoredArtifact{{Bucket: "profiles", Fingerprint: "f1", Extension: "txt", Payload: "blocked"}})
	require.NoError(t, err)
	_, err = store.Write(ctx, []cache.StoredArtifact{{Bucket: "profiles", Fingerprint: "f1", Extension: "html", Payload: "<html></html>"}})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "profiles", "f1.txt"))
	assert.True(t, os.IsNotExist(err))
	payload, ok, err := store.Read(ctx, "profiles", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<html></html>", payload)

	entries, err := os.ReadDir(filepath.Join(root, "profiles"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileArtifactStore_BacksCacheFlush(t *testing.T) {
	store := NewFileArtifactStore(t.TempDir())
	ctx := context.Background()
	c := cache.New(store)
	req := cache.Request{Method: "GET", URL: "https://dj.example.com/dj/a-1"}

	c.Stage(cache.Artifact{Type: "profile-page", Request: req, Payload: "<!DOCTYPE html><html></html>"})
	paths, err := c.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	fresh := cache.New(store)
	payload, ok, err := fresh.Read(ctx, "profile-page", req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<!DOCTYPE html><html></html>", payload)
}
