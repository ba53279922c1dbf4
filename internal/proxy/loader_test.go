package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeProxyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileSource_Fetch(t *testing.T) {
	path := writeProxyFile(t, "# comment\n1.1.1.1:80\n\n  2.2.2.2:8080  \n")

	addrs, err := FileSource{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:8080"}, addrs)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing")}.Fetch(context.Background())
	assert.Error(t, err)
}

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"proxy":"1.1.1.1:80"},{"ip":"2.2.2.2","port":3128},{"ip":"3.3.3.3","port":"8080"},{}]`))
	}))
	defer srv.Close()

	addrs, err := HTTPSource{URL: srv.URL}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:3128", "3.3.3.3:8080"}, addrs)
}

func TestHTTPSource_FetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := HTTPSource{URL: srv.URL}.Fetch(context.Background())
	assert.ErrorContains(t, err, "502")
}

func TestLoader_RefreshFallsBackToNextSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"proxy":"4.4.4.4:80"}]`))
	}))
	defer srv.Close()

	pool := NewPool(3)
	empty := writeProxyFile(t, "\n")
	loader := NewLoader(pool, time.Hour, zap.NewNop(), FileSource{Path: empty}, HTTPSource{URL: srv.URL})

	assert.Equal(t, 1, loader.Refresh(context.Background(), false))
	assert.Equal(t, "4.4.4.4:80", pool.Records()[0].Address)
}

func TestLoader_RefreshHonoursInterval(t *testing.T) {
	path := writeProxyFile(t, "1.1.1.1:80\n")
	pool := NewPool(3)
	loader := NewLoader(pool, time.Hour, zap.NewNop(), FileSource{Path: path})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loader.now = func() time.Time { return now }

	require.Equal(t, 1, loader.Refresh(context.Background(), false))

	require.NoError(t, os.WriteFile(path, []byte("1.1.1.1:80\n2.2.2.2:80\n"), 0644))
	assert.Equal(t, 1, loader.Refresh(context.Background(), false), "interval not elapsed")

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 2, loader.Refresh(context.Background(), false))
}

func TestLoader_RemoveLastRecordRefreshes(t *testing.T) {
	path := writeProxyFile(t, "1.1.1.1:80\n")
	pool := NewPool(3)
	loader := NewLoader(pool, time.Hour, zap.NewNop(), FileSource{Path: path})
	require.Equal(t, 1, loader.Refresh(context.Background(), false))

	loader.Remove(context.Background(), "1.1.1.1:80")
	assert.Equal(t, 1, pool.Len())
}
