package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roomrelay/internal/app"
	"roomrelay/internal/config"
)

// syncBuffer is a bytes.Buffer safe for the logger's concurrent writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type relay struct {
	app      *app.Application
	server   *httptest.Server
	adminKey string
}

// startRelay runs a complete relay over a fresh database and returns it
// along with the bootstrap admin key read from the startup log.
func startRelay(t *testing.T, mutate func(*config.Config)) *relay {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "relay.db")
	cfg.Server.HTTPRateLimit = 0
	if mutate != nil {
		mutate(cfg)
	}

	var logs syncBuffer
	application, err := app.NewApplication(cfg, zerolog.New(&logs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	require.NoError(t, application.StartHub(context.Background()))

	server := httptest.NewServer(application.Handler())
	t.Cleanup(server.Close)

	return &relay{app: application, server: server, adminKey: adminKeyFromLogs(t, logs.String())}
}

func adminKeyFromLogs(t *testing.T, logs string) string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(logs))
	for scanner.Scan() {
		var entry map[string]any
		if json.Unmarshal(scanner.Bytes(), &entry) != nil {
			continue
		}
		if key, ok := entry["admin_key"].(string); ok {
			return key
		}
	}
	t.Fatal("admin key was not logged at startup")
	return ""
}

func (r *relay) request(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, r.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (r *relay) register(t *testing.T, clientID string) string {
	t.Helper()
	resp, body := r.request(t, http.MethodPost, "/register", `{"clientId":"`+clientID+`"}`,
		map[string]string{"Authorization": "Bearer " + r.adminKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["apiKey"].(string)
}

func (r *relay) token(t *testing.T, apiKey string) string {
	t.Helper()
	resp, body := r.request(t, http.MethodGet, "/auth", "", map[string]string{"x-api-key": apiKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["token"].(string)
}

func (r *relay) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.server.URL, "http") + "/chat?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect redeems a fresh token for apiKey and opens a peer connection,
// returning it with its assigned id.
func (r *relay) connect(t *testing.T, apiKey, query string) (*websocket.Conn, string) {
	t.Helper()
	conn := r.dial(t, "token="+r.token(t, apiKey)+"&"+query)
	event := readEvent(t, conn)
	require.Equal(t, "connected", event["type"])
	return conn, event["id"].(string)
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr.Code
	}
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}
