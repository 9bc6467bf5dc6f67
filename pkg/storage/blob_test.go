package storage

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlobStore(t *testing.T, maxBytes int64) *LocalBlobStore {
	t.Helper()
	store, err := NewLocalBlobStore(t.TempDir(), maxBytes, NewURLSigner("secret"), "http://localhost:8080/api/v1/")
	require.NoError(t, err)
	return store
}

func TestLocalBlobStorePutGetAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestBlobStore(t, 0)

	require.NoError(t, store.PutFile(ctx, "Schools/s1/Attachments/b.pdf", strings.NewReader("bee")))
	require.NoError(t, store.PutFile(ctx, "Schools/s1/Attachments/a.pdf", strings.NewReader("ay")))

	names, err := store.ListChildren(ctx, "Schools/s1/Attachments")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, names)

	rc, err := store.GetFile(ctx, "Schools/s1/Attachments/b.pdf")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bee", string(body))
}

func TestLocalBlobStoreMissingObjects(t *testing.T) {
	ctx := context.Background()
	store := newTestBlobStore(t, 0)

	_, err := store.GetFile(ctx, "Schools/s1/none.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)

	names, err := store.ListChildren(ctx, "Schools/unknown/Attachments")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.DownloadURL(ctx, "Schools/s1/none.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Delete(ctx, "Schools/s1/none.pdf"))
}

func TestLocalBlobStoreRejectsEscapingPaths(t *testing.T) {
	store := newTestBlobStore(t, 0)
	err := store.PutFile(context.Background(), "../outside.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestLocalBlobStoreEnforcesSizeLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestBlobStore(t, 4)

	err := store.PutFile(ctx, "Teachers/u1/big.bin", strings.NewReader("12345"))
	require.ErrorIs(t, err, ErrObjectTooLarge)
	ok, err := store.Exists(ctx, "Teachers/u1/big.bin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalBlobStoreDownloadURLRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestBlobStore(t, 0)
	objectPath := "Schools/s1/Classes/c1/Attachments/roster 2024.csv"
	require.NoError(t, store.PutFile(ctx, objectPath, strings.NewReader("name\nAda")))

	raw, err := store.DownloadURL(ctx, objectPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://localhost:8080/api/v1/files/Schools/s1/"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, u.Query().Get("token"))

	got, ok := store.ObjectPathFromURL(raw)
	require.True(t, ok)
	assert.Equal(t, objectPath, got)

	again, err := store.DownloadURL(ctx, objectPath)
	require.NoError(t, err)
	assert.Equal(t, raw, again, "durable urls are stable")
}
