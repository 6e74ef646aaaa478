package request

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

func newTestClient(cfg Config) (*Client, *logger.TestLogger, *[]time.Duration) {
	tl := logger.NewTestLogger()
	c := New(cfg, tl)
	sleeps := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return c, tl, sleeps
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(Config{MaxRetries: 3})
	resp := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NotNil(t, resp)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.JSON(&out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoReturnsNilWhenAllAttemptsFail(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, tl, _ := newTestClient(Config{MaxRetries: 3})
	resp := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)

	assert.Nil(t, resp)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.True(t, tl.Has("ERROR", "all requests failed"))
}

func TestDoBackoffDoubles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _, sleeps := newTestClient(Config{MaxRetries: 3, BackoffUnit: time.Second})
	resp := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)

	assert.Nil(t, resp)
	// 三次尝试之间只等待两次
	require.Len(t, *sleeps, 2)
	assert.Equal(t, time.Second, (*sleeps)[0])
	assert.Equal(t, 2*time.Second, (*sleeps)[1])
}

func TestDoSendsDefaultAndCallHeaders(t *testing.T) {
	var gotAuth, gotExtra, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotExtra = r.Header.Get("X-Extra")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(Config{
		Headers: map[string]string{"Authorization": "Token abc123"},
	})
	resp := c.Do(context.Background(), http.MethodPost, srv.URL,
		map[string]string{"title": "x"},
		map[string]string{"X-Extra": "1"})

	require.NotNil(t, resp)
	assert.Equal(t, "Token abc123", gotAuth)
	assert.Equal(t, "1", gotExtra)
	assert.Equal(t, "application/json", gotContentType)
}

func TestDoNilBodyOmitsContentType(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(Config{})
	resp := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)

	require.NotNil(t, resp)
	assert.Empty(t, gotContentType)
}

func TestDoConnectionErrorExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, tl, sleeps := newTestClient(Config{MaxRetries: 3})
	resp := c.Do(context.Background(), http.MethodGet, url, nil, nil)

	assert.Nil(t, resp)
	assert.Len(t, *sleeps, 2)
	assert.True(t, tl.Has("WARN", "connection error"))
}

func TestDoContextCanceledStopsRetrying(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _, sleeps := newTestClient(Config{MaxRetries: 3})
	resp := c.Do(ctx, http.MethodGet, srv.URL, nil, nil)

	assert.Nil(t, resp)
	// 上下文取消后不再重试
	assert.Empty(t, *sleeps)
}

func TestDoStreamDeliversBodyAndHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="scan.pdf"`)
		w.Write([]byte("pdf bytes"))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(Config{})
	st, err := c.DoStream(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	defer st.Body.Close()

	data, err := io.ReadAll(st.Body)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))
	assert.Contains(t, st.Header.Get("Content-Disposition"), "scan.pdf")
}

func TestDoStreamErrorAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _, _ := newTestClient(Config{MaxRetries: 2})
	st, err := c.DoStream(context.Background(), http.MethodGet, srv.URL, nil)

	assert.Error(t, err)
	assert.Nil(t, st)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
