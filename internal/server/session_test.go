package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iwvelando/sales-forecast/internal/datasource"
	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialSession(t *testing.T) *websocket.Conn {
	t.Helper()
	handler, _ := newTestHandler(t, 0)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readMessage(t *testing.T, conn *websocket.Conn) sessionMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg sessionMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestSessionForecast(t *testing.T) {
	conn := dialSession(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":      MessageForecast,
		"algorithm": "advanced_ensemble",
		"filter":    map[string]string{"country": "Korea"},
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageForecast, msg.Type)
	assert.Equal(t, uint64(1), msg.Generation)
	require.NotNil(t, msg.Result)
	assert.Len(t, msg.Result.Forecast.Points, 12)
	assert.Len(t, msg.Result.Band, 12)
	assert.Empty(t, msg.Error)
}

func TestSessionLatestRequestWins(t *testing.T) {
	conn := dialSession(t)

	require.NoError(t, conn.WriteJSON(forecast.Request{Algorithm: "wavelet_arima", Horizon: 24}))
	require.NoError(t, conn.WriteJSON(forecast.Request{Algorithm: "advanced_ensemble"}))

	// Generation 1 may only arrive if it finished before the second request
	// was read; nothing may follow generation 2.
	for {
		msg := readMessage(t, conn)
		require.Equal(t, MessageForecast, msg.Type)
		require.NotNil(t, msg.Result)
		if msg.Generation == 2 {
			assert.Equal(t, "advanced_ensemble", msg.Result.Forecast.Algorithm)
			assert.Len(t, msg.Result.Forecast.Points, 12)
			break
		}
		require.Equal(t, uint64(1), msg.Generation)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no message may follow the latest result")
}

func TestSessionFailureMessage(t *testing.T) {
	conn := dialSession(t)

	require.NoError(t, conn.WriteJSON(forecast.Request{Algorithm: "prophet"}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageFailure, msg.Type)
	assert.Contains(t, msg.Error, "unknown forecast algorithm")
	require.NotNil(t, msg.Result)
	assert.Empty(t, msg.Result.Forecast.Points)
}

func TestSessionOriginCheck(t *testing.T) {
	store := datasource.NewStore(nil)
	store.Replace(datasource.GenerateSample(1), sampleSource)
	handler := NewHandler(zap.NewNop(), nil, store, Options{AllowedOrigins: []string{"http://dashboard.example/"}})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "no origin header", allowed: true},
		{name: "same host", origin: srv.URL, allowed: true},
		{name: "configured origin", origin: "http://dashboard.example", allowed: true},
		{name: "cross-site page", origin: "http://evil.example", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
			if tt.allowed {
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestSessionSendUnencodableResult(t *testing.T) {
	s := &session{
		id:     "test",
		logger: zap.NewNop(),
		notify: make(chan struct{}, 1),
	}
	result := &forecastResponse{Summary: forecast.Summary{GrowthRate: math.Inf(1)}}

	s.send(sessionMessage{Type: MessageForecast, Generation: 4, Result: result})

	data := s.take()
	require.NotNil(t, data)
	var msg sessionMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageFailure, msg.Type)
	assert.Equal(t, uint64(4), msg.Generation)
	assert.Contains(t, msg.Error, "failed to encode result")
	require.NotNil(t, msg.Result)
	assert.Empty(t, msg.Result.Forecast.Points)
}

func TestSessionMalformedMessage(t *testing.T) {
	conn := dialSession(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Error, "malformed request")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Error, "unknown message type subscribe")
}
