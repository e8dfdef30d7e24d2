package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalchat/internal/relay"
	"legalchat/internal/types"
)

type fakeConn struct {
	state relay.State
}

func (f *fakeConn) State() relay.State { return f.state }

type fakeErrors struct {
	last      *types.AppError
	dismissed int
}

func (f *fakeErrors) LastError() *types.AppError { return f.last }
func (f *fakeErrors) DismissError()              { f.dismissed++; f.last = nil }

type fakeSink struct {
	events []types.ChatMessageEvent
	err    error
}

func (f *fakeSink) OnOutboundMessage(_ context.Context, event types.ChatMessageEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func newTestServer(t *testing.T, conn *fakeConn, errs *fakeErrors, sink *fakeSink) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := &types.Session{UserID: "u1", Nickname: "Test Client", Role: types.RoleClient}
	s, err := NewServer(session, conn, errs, sink, logger)
	require.NoError(t, err)
	return s
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeConn{state: relay.StateConnected}, &fakeErrors{}, &fakeSink{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandleStatus_ConnectedNoError(t *testing.T) {
	s := newTestServer(t, &fakeConn{state: relay.StateConnected}, &fakeErrors{}, &fakeSink{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data statusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, relay.StateConnected, resp.Data.Connection)
	require.NotNil(t, resp.Data.Session)
	assert.Equal(t, "u1", resp.Data.Session.UserID)
	assert.Nil(t, resp.Data.LastError)
}

func TestHandleStatus_SurfacesLastError(t *testing.T) {
	errs := &fakeErrors{
		last: types.NewAppErrorWithDetails(types.ErrCodeDispatchFailed, "provider rejected send", nil,
			map[string]any{"status": 400}),
	}
	s := newTestServer(t, &fakeConn{state: relay.StateDisconnected}, errs, &fakeSink{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data statusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, relay.StateDisconnected, resp.Data.Connection)
	require.NotNil(t, resp.Data.LastError)
	assert.Equal(t, "dispatch_failed", resp.Data.LastError.Code)
	assert.Equal(t, "provider rejected send", resp.Data.LastError.Message)
}

func TestHandleDismissError(t *testing.T) {
	errs := &fakeErrors{last: types.NewAppError(types.ErrCodeDispatchFailed, "boom", nil)}
	s := newTestServer(t, &fakeConn{state: relay.StateConnected}, errs, &fakeSink{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/status/error", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, errs.dismissed)
	assert.Nil(t, errs.last)
}

func TestHandleMessageEvent_RoutesEvent(t *testing.T) {
	sink := &fakeSink{}
	s := newTestServer(t, &fakeConn{state: relay.StateConnected}, &fakeErrors{}, sink)

	body := `{"messageType":"email","senderId":"u1","channelUrl":"channel_1","messageId":"m1","message":"hello"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/message", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "email", sink.events[0].MessageType)
	assert.Equal(t, "u1", sink.events[0].SenderID)
	assert.Equal(t, "hello", sink.events[0].Body)
}

func TestHandleMessageEvent_MalformedJSON(t *testing.T) {
	sink := &fakeSink{}
	s := newTestServer(t, &fakeConn{state: relay.StateConnected}, &fakeErrors{}, sink)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/message", strings.NewReader(`{broken`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sink.events)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_invalid_json", resp.Error.Code)
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestHandleMessageEvent_RoutingFailureMapsStatus(t *testing.T) {
	sink := &fakeSink{
		err: types.NewAppError(types.ErrCodeRecipientResolution, "channel has no member besides sender", nil),
	}
	s := newTestServer(t, &fakeConn{state: relay.StateConnected}, &fakeErrors{}, sink)

	body := `{"messageType":"email","senderId":"u1","channelUrl":"channel_1","messageId":"m1","message":"x"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/message", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "recipient_resolution_failed", resp.Error.Code)
}

func TestRequestIDMiddleware_ReusesIncomingHeader(t *testing.T) {
	s := newTestServer(t, &fakeConn{state: relay.StateConnected}, &fakeErrors{}, &fakeSink{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-Id"))
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewServer(nil, nil, &fakeErrors{}, &fakeSink{}, logger)
	assert.Error(t, err)

	_, err = NewServer(nil, &fakeConn{}, nil, &fakeSink{}, logger)
	assert.Error(t, err)

	_, err = NewServer(nil, &fakeConn{}, &fakeErrors{}, nil, logger)
	assert.Error(t, err)
}
