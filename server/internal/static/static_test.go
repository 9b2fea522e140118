package static_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendlv/opendlv-ui-relay/server/internal/static"
)

func newRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"index.html":       "<html>ui</html>",
		"app.js":           "console.log(1)",
		"style.css":        "body{}",
		"messages.json":    "{}",
		"img/logo.png":     "png",
		"img/photo.JPG":    "jpg",
		"odvd/messages.odvd":   "message x [id = 1] {}",
		"nested/dir/.keep": "",
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"index.html":     "text/html",
		"a.css":          "text/css",
		"a.js":           "text/javascript",
		"a.json":         "application/json",
		"a.gif":          "image/gif",
		"a.png":          "image/png",
		"a.jpeg":         "image/jpeg",
		"a.jpg":          "image/jpeg",
		"a.odvd":         "text/plain",
		"noextension":    "text/plain",
		"archive.tar.gz": "text/plain",
	}
	for name, want := range tests {
		assert.Equal(t, want, static.ContentType(name), name)
	}
}

func TestHandler_RootServesIndex(t *testing.T) {
	h := static.New(newRoot(t), nil)
	rr := get(h, "/")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html", rr.Header().Get("Content-Type"))
	assert.Equal(t, "<html>ui</html>", rr.Body.String())
}

func TestHandler_ContentTypeByExtension(t *testing.T) {
	h := static.New(newRoot(t), nil)
	tests := []struct {
		path string
		want string
	}{
		{"/app.js", "text/javascript"},
		{"/style.css", "text/css"},
		{"/messages.json", "application/json"},
		{"/img/logo.png", "image/png"},
		{"/img/photo.JPG", "image/jpeg"},
		{"/odvd/messages.odvd", "text/plain"},
	}
	for _, tc := range tests {
		rr := get(h, tc.path)
		assert.Equal(t, http.StatusOK, rr.Code, tc.path)
		assert.Equal(t, tc.want, rr.Header().Get("Content-Type"), tc.path)
	}
}

func TestHandler_NotFound(t *testing.T) {
	h := static.New(newRoot(t), nil)
	for _, p := range []string{"/missing.html", "/img", "/nested/dir/", "/img/missing.png"} {
		assert.Equal(t, http.StatusNotFound, get(h, p).Code, p)
	}
}

func TestHandler_NoTraversal(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "www")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))

	h := static.New(root, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/../secret.txt"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := static.New(newRoot(t), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/index.html", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
