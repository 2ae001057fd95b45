package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapshelf/swapshelf/internal/infrastructure/realtime"
)

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/realtime?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f realtime.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func writeRequest(t *testing.T, conn *websocket.Conn, req realtimeRequest) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func TestRealtimeRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/realtime"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/realtime?access_token=" + alice.token

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{env.server.URL}})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	_ = conn.Close()
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no origin header", origin: "", want: true},
		{name: "same host", origin: "http://example.com", want: true},
		{name: "other host", origin: "http://attacker.test", want: false},
		{name: "listed origin", allowed: []string{"https://app.swapshelf.test/"}, origin: "https://app.swapshelf.test", want: true},
		{name: "unlisted origin", allowed: []string{"https://app.swapshelf.test"}, origin: "http://example.com", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anywhere.test", want: true},
		{name: "malformed origin", origin: "::not a url", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example.com/v1/realtime", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(tt.allowed)(r))
		})
	}
}

func TestRealtimeOrderedBroadcast(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bobby")
	book := env.createItem(t, alice, "Gilead")

	status, body := env.do(t, http.MethodPost, "/v1/negotiations", bob.token, map[string]string{
		"requestedItemId": book,
		"kind":            "ONE_WAY",
	})
	require.Equal(t, http.StatusCreated, status, body)
	negotiationID := body["id"].(string)

	aliceConn := env.dial(t, alice.token)
	bobConn := env.dial(t, bob.token)

	for i, conn := range []*websocket.Conn{aliceConn, bobConn} {
		writeRequest(t, conn, realtimeRequest{Type: requestJoin, RequestID: "join", NegotiationID: negotiationID})
		f := readFrame(t, conn)
		require.Equal(t, realtime.FrameJoined, f.Type, "conn %d", i)
		assert.Equal(t, "join", f.RequestID)
	}

	bodies := []string{"m1", "m2", "m3"}
	for _, b := range bodies {
		writeRequest(t, aliceConn, realtimeRequest{Type: requestSend, NegotiationID: negotiationID, Body: b})
	}

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		var prev time.Time
		for i, want := range bodies {
			f := readFrame(t, conn)
			require.Equal(t, realtime.FrameMessage, f.Type)
			require.NotNil(t, f.Message)
			assert.Equal(t, want, f.Message.Body)
			assert.Equal(t, int64(i+1), f.Message.Seq)
			assert.True(t, f.Message.Timestamp.After(prev), "timestamps must increase")
			prev = f.Message.Timestamp
		}
	}

	writeRequest(t, bobConn, realtimeRequest{Type: requestHistory, RequestID: "h", NegotiationID: negotiationID, AfterSeq: 1})
	f := readFrame(t, bobConn)
	require.Equal(t, realtime.FrameHistory, f.Type)
	require.Len(t, f.Messages, 2)
	assert.Equal(t, "m2", f.Messages[0].Body)
}

func TestRealtimeErrorsAreFrames(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bobby")
	carol := env.register(t, "carol")
	book := env.createItem(t, alice, "Beloved")

	status, body := env.do(t, http.MethodPost, "/v1/negotiations", bob.token, map[string]string{
		"requestedItemId": book,
		"kind":            "ONE_WAY",
	})
	require.Equal(t, http.StatusCreated, status, body)
	negotiationID := body["id"].(string)

	conn := env.dial(t, carol.token)

	writeRequest(t, conn, realtimeRequest{Type: requestJoin, RequestID: "1", NegotiationID: negotiationID})
	f := readFrame(t, conn)
	require.Equal(t, realtime.FrameError, f.Type)
	assert.Equal(t, "FORBIDDEN", f.Error.Code)

	writeRequest(t, conn, realtimeRequest{Type: requestJoin, RequestID: "2", NegotiationID: uuid.NewString()})
	f = readFrame(t, conn)
	require.Equal(t, realtime.FrameError, f.Type)
	assert.Equal(t, "NOT_FOUND", f.Error.Code)

	writeRequest(t, conn, realtimeRequest{Type: requestJoin, RequestID: "3", NegotiationID: "nope"})
	f = readFrame(t, conn)
	assert.Equal(t, "VALIDATION_ERROR", f.Error.Code)

	writeRequest(t, conn, realtimeRequest{Type: "dance", RequestID: "4", NegotiationID: negotiationID})
	f = readFrame(t, conn)
	assert.Equal(t, "VALIDATION_ERROR", f.Error.Code)

	writeRequest(t, conn, realtimeRequest{Type: requestPing, RequestID: "5"})
	f = readFrame(t, conn)
	assert.Equal(t, realtime.FramePong, f.Type)
	assert.Equal(t, "5", f.RequestID)
}
