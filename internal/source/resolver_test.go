package source_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/source"
)

func TestResolver_DataURLBase64(t *testing.T) {
	r := source.NewResolver(0)
	encoded := base64.StdEncoding.EncodeToString([]byte("image-bytes"))

	blob, err := r.Resolve(context.Background(), "data:image/png;base64,"+encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), blob.Data)
	assert.Equal(t, "image/png", blob.MIME)
}

func TestResolver_DataURLPlain(t *testing.T) {
	r := source.NewResolver(0)

	blob, err := r.Resolve(context.Background(), "data:text/plain,hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), blob.Data)
	assert.Equal(t, "text/plain", blob.MIME)
}

func TestResolver_DataURLMalformed(t *testing.T) {
	r := source.NewResolver(0)

	_, err := r.Resolve(context.Background(), "data:image/png;base64")
	assert.Error(t, err)
}

func TestResolver_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	r := source.NewResolver(0)
	blob, err := r.Resolve(context.Background(), srv.URL+"/scan.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), blob.Data)
	assert.Equal(t, "image/jpeg", blob.MIME)
}

func TestResolver_HTTPNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	r := source.NewResolver(0)
	_, err := r.Resolve(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestResolver_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf-bytes"), 0o600))

	r := source.NewResolver(0)

	blob, err := r.Resolve(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), blob.Data)
	assert.Equal(t, "application/pdf", blob.MIME)

	blob, err = r.Resolve(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), blob.Data)
}

func TestResolver_UnsupportedScheme(t *testing.T) {
	r := source.NewResolver(0)

	_, err := r.Resolve(context.Background(), "s3://bucket/key.png")
	assert.ErrorIs(t, err, source.ErrUnsupportedLocator)
}
