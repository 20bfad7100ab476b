package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/hyperjs/internal/config"
	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/logging"
	"github.com/cryguy/hyperjs/internal/metrics"
	"github.com/cryguy/hyperjs/internal/routes"
)

// fakeExecutor answers with a function of the request.
type fakeExecutor struct {
	mu   sync.Mutex
	seen []core.Request
	fn   func(core.Request) (core.ExecutionResult, error)
}

func (f *fakeExecutor) ExecuteRequest(_ context.Context, req core.Request) (core.ExecutionResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	return f.fn(req)
}

// echo returns the request the handler would see as JSON.
func echo(req core.Request) (core.ExecutionResult, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return core.ExecutionResult{}, err
	}
	return core.ExecutionResult{StatusCode: 200, Body: string(b)}, nil
}

func testTable(t *testing.T) *routes.Table {
	t.Helper()
	table, err := routes.Build([]routes.HandlerSource{
		{Name: "hello", Method: "GET", Path: "/hello/{name}"},
		{Name: "create", Method: "POST", Path: "/users"},
		{Name: "update", Method: "PUT", Path: "/users/{userId}"},
	}, nil)
	require.NoError(t, err)
	return table
}

func newTestServer(t *testing.T, cfg config.Server, exec Executor, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, testTable(t), exec, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func defaultCfg() config.Server {
	return config.Default().Server
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func decodeEcho(t *testing.T, body string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	return m
}

func TestDispatch_ParamsAndQuery(t *testing.T) {
	_, ts := newTestServer(t, defaultCfg(), &fakeExecutor{fn: echo})

	resp, body := do(t, http.MethodGet, ts.URL+"/hello/world?x=1&x=2&y=z", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	m := decodeEcho(t, body)
	require.Equal(t, map[string]any{"name": "world"}, m["params"])
	require.Equal(t, map[string]any{"x": "2", "y": "z"}, m["query"], "last duplicate wins")
	require.Nil(t, m["body"])
	require.Equal(t, resp.Header.Get("X-Request-Id"), jsonNumber(m["requestId"]))
}

func jsonNumber(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestDispatch_BodyHandling(t *testing.T) {
	_, ts := newTestServer(t, defaultCfg(), &fakeExecutor{fn: echo})

	_, body := do(t, http.MethodPost, ts.URL+"/users", `{"name":"Ann"}`)
	require.Equal(t, map[string]any{"name": "Ann"}, decodeEcho(t, body)["body"])

	_, body = do(t, http.MethodPost, ts.URL+"/users", "plain text")
	require.Equal(t, "plain text", decodeEcho(t, body)["body"])

	_, body = do(t, http.MethodPost, ts.URL+"/users", "   ")
	require.Nil(t, decodeEcho(t, body)["body"])
}

func TestDispatch_BodyTooLarge(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxBodyBytes = 8
	exec := &fakeExecutor{fn: echo}
	_, ts := newTestServer(t, cfg, exec)

	resp, _ := do(t, http.MethodPost, ts.URL+"/users", strings.Repeat("a", 64))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Empty(t, exec.seen)
}

func TestDispatch_NotFound(t *testing.T) {
	exec := &fakeExecutor{fn: echo}
	_, ts := newTestServer(t, defaultCfg(), exec)

	resp, _ := do(t, http.MethodGet, ts.URL+"/nope", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The path exists only for PUT.
	resp, _ = do(t, http.MethodDelete, ts.URL+"/users/1", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Empty(t, exec.seen)
}

func TestDispatch_Timeout(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	exec := &fakeExecutor{fn: func(core.Request) (core.ExecutionResult, error) {
		<-release
		defer close(finished)
		return core.ExecutionResult{StatusCode: 200, Body: "late"}, nil
	}}
	cfg := defaultCfg()
	cfg.HandlerTimeout = config.Duration(50 * time.Millisecond)
	s, ts := newTestServer(t, cfg, exec)

	resp, body := do(t, http.MethodGet, ts.URL+"/hello/slow", "")
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	require.Equal(t, msgTimeout, body)
	require.Zero(t, s.Registry().Len())

	close(release)
	<-finished
	require.Eventually(t, func() bool { return s.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatch_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		res    core.ExecutionResult
		err    error
		status int
		body   string
	}{
		{"script 500", core.ExecutionResult{StatusCode: 500, Body: "Internal Server Error: boom"}, nil, 500, "Internal Server Error: boom"},
		{"no result", core.ExecutionResult{}, core.ErrNoResult, 500, msgNoResponse},
		{"worker closed", core.ExecutionResult{}, core.ErrWorkerClosed, 500, msgNoResponse},
		{"deadline", core.ExecutionResult{}, core.ErrExecutionDeadline, 504, msgTimeout},
		{"invalid status", core.ExecutionResult{StatusCode: 1000, Body: "x"}, nil, 500, msgInvalidStatus},
		{"status zero", core.ExecutionResult{StatusCode: 0}, nil, 500, msgInvalidStatus},
		{"created", core.ExecutionResult{StatusCode: 201, Body: "made"}, nil, 201, "made"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ts := newTestServer(t, defaultCfg(), &fakeExecutor{fn: func(core.Request) (core.ExecutionResult, error) {
				return tc.res, tc.err
			}})
			resp, body := do(t, http.MethodGet, ts.URL+"/hello/x", "")
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.body, body)
		})
	}
}

func TestDispatch_HandlerNotFoundMessage(t *testing.T) {
	_, ts := newTestServer(t, defaultCfg(), &fakeExecutor{fn: func(req core.Request) (core.ExecutionResult, error) {
		return core.ExecutionResult{}, core.ErrHandlerNotFound
	}})
	resp, body := do(t, http.MethodGet, ts.URL+"/hello/x", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.True(t, strings.HasPrefix(body, "Failed to invoke handler:"), body)
}

func TestRateLimit(t *testing.T) {
	cfg := defaultCfg()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	_, ts := newTestServer(t, cfg, &fakeExecutor{fn: echo})

	resp, _ := do(t, http.MethodGet, ts.URL+"/hello/a", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/hello/a", "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCompression(t *testing.T) {
	cfg := defaultCfg()
	cfg.Compression = true
	_, ts := newTestServer(t, cfg, &fakeExecutor{fn: func(core.Request) (core.ExecutionResult, error) {
		return core.ExecutionResult{StatusCode: 200, Body: strings.Repeat("hello ", 100)}, nil
	}})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/hello/a", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip, br")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "br", resp.Header.Get("Content-Encoding"))
	plain, err := io.ReadAll(brotli.NewReader(resp.Body))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("hello ", 100), string(plain))
}

func TestAcceptsBrotli(t *testing.T) {
	require.True(t, acceptsBrotli("br"))
	require.True(t, acceptsBrotli("gzip, br;q=0.5"))
	require.False(t, acceptsBrotli("gzip"))
	require.False(t, acceptsBrotli("br;q=0"))
	require.False(t, acceptsBrotli(""))
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	_, ts := newTestServer(t, defaultCfg(), &fakeExecutor{fn: echo}, WithMetrics(m))

	do(t, http.MethodGet, ts.URL+"/hello/a", "")
	require.Eventually(t, func() bool {
		resp, body := do(t, http.MethodGet, ts.URL+metrics.Path, "")
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(body, `hyperjs_http_requests_total{code="200",method="GET"} 1`) &&
			strings.Contains(body, "hyperjs_pending_requests 0")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTail_StreamsScriptLogs(t *testing.T) {
	tail := logging.NewTail(nil)
	cfg := defaultCfg()
	cfg.TailEnabled = true
	_, ts := newTestServer(t, cfg, &fakeExecutor{fn: echo}, WithTail(tail))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+TailPath, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return tail.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	tail.ScriptLog(core.NewLogEntry("hello", 3, "info", "Hello from JS"))

	var got core.LogEntry
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	require.Equal(t, "Hello from JS", got.Message)
	require.Equal(t, "hello", got.Handler)
	require.Equal(t, uint32(3), got.RequestID)
}

func TestTail_DisabledByDefault(t *testing.T) {
	_, ts := newTestServer(t, defaultCfg(), &fakeExecutor{fn: echo}, WithTail(logging.NewTail(nil)))
	resp, _ := do(t, http.MethodGet, ts.URL+TailPath, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBodyJSON(t *testing.T) {
	require.JSONEq(t, `null`, string(bodyJSON(nil)))
	require.JSONEq(t, `[1,2]`, string(bodyJSON([]byte("[1,2]"))))
	require.JSONEq(t, `"a\"b"`, string(bodyJSON([]byte(`a"b`))))
}

func TestDispatch_SameShapeRoutesFollowTable(t *testing.T) {
	table, err := routes.Build([]routes.HandlerSource{
		{Name: "a", Path: "/items/{id}"},
		{Name: "b", Path: "/items/{itemId}"},
	}, nil)
	require.NoError(t, err)

	exec := &fakeExecutor{fn: echo}
	s := New(defaultCfg(), table, exec)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, body := do(t, http.MethodGet, ts.URL+"/items/7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"itemId": "7"}, decodeEcho(t, body)["params"])

	m, ok := table.Lookup(http.MethodGet, "/items/7")
	require.True(t, ok)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.seen, 1)
	require.Equal(t, m.Handler, exec.seen[0].Handler)
	require.Equal(t, "b", exec.seen[0].Handler)
}
