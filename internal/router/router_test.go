package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalchat/internal/types"
)

// fakeDispatcher records calls and returns scripted outcomes.
type fakeDispatcher struct {
	dispatchCalls []types.EmailDispatchRequest
	templateCalls []templateCall

	result types.EmailDispatchResult
	err    error
}

type templateCall struct {
	serviceID  string
	templateID string
	params     map[string]any
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req types.EmailDispatchRequest) (types.EmailDispatchResult, error) {
	f.dispatchCalls = append(f.dispatchCalls, req)
	return f.result, f.err
}

func (f *fakeDispatcher) DispatchTemplate(_ context.Context, serviceID, templateID string, params map[string]any) (types.EmailDispatchResult, error) {
	f.templateCalls = append(f.templateCalls, templateCall{serviceID, templateID, params})
	return f.result, f.err
}

// fakeFetcher returns a scripted channel or error.
type fakeFetcher struct {
	calls   []string
	channel *types.Channel
	err     error
}

func (f *fakeFetcher) FetchChannel(_ context.Context, channelURL string) (*types.Channel, error) {
	f.calls = append(f.calls, channelURL)
	return f.channel, f.err
}

// fakeEmitter records emitted relay events.
type fakeEmitter struct {
	events   []string
	payloads []any
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

func okDispatcher() *fakeDispatcher {
	return &fakeDispatcher{result: types.EmailDispatchResult{Success: true, Status: 200, Text: "OK"}}
}

func newTestRouter(d *fakeDispatcher, f *fakeFetcher, e *fakeEmitter) *Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(d, f, e, logger)
}

func twoMemberChannel() *types.Channel {
	return &types.Channel{
		URL: "channel_1",
		Members: []types.Member{
			{UserID: "u1"},
			{UserID: "u2", MetaData: types.MemberMetaData{Email: "u2@x.com"}},
		},
	}
}

func TestOnOutboundMessage_NonEmailIsNoop(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: "text",
		SenderID:    "u1",
		MessageID:   "m1",
		Body:        "just chatting",
	})
	require.NoError(t, err)

	assert.Empty(t, d.dispatchCalls)
	assert.Empty(t, f.calls)
	assert.Empty(t, e.events)
	assert.Nil(t, r.LastError())
}

func TestOnOutboundMessage_DispatchFieldMapping(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		MessageID:   "m1",
		Body:        "hello",
		Channel:     twoMemberChannel(),
	})
	require.NoError(t, err)

	require.Len(t, d.dispatchCalls, 1)
	assert.Equal(t, types.EmailDispatchRequest{
		From:      "u1",
		To:        "u2@x.com",
		ReplyBody: "hello",
		ThreadID:  "m1",
	}, d.dispatchCalls[0])

	// Channel was attached; the fetcher must not be consulted.
	assert.Empty(t, f.calls)

	require.Equal(t, []string{types.EventEmailReport}, e.events)
	report := e.payloads[0].(types.EmailReportEvent)
	assert.True(t, report.Success)
	assert.Equal(t, "m1", report.ThreadID)
	assert.Equal(t, types.ProviderResponse{Status: 200, Text: "OK"}, report.Response)
}

func TestOnOutboundMessage_RecipientFallsBackToUserID(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		MessageID:   "m2",
		Body:        "hi",
		Channel: &types.Channel{
			URL:     "channel_2",
			Members: []types.Member{{UserID: "u1"}, {UserID: "u2"}},
		},
	})
	require.NoError(t, err)

	require.Len(t, d.dispatchCalls, 1)
	assert.Equal(t, "u2", d.dispatchCalls[0].To)
}

func TestOnOutboundMessage_EmailOnlyMemberIsDispatchable(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		MessageID:   "m8",
		Body:        "hi",
		Channel: &types.Channel{
			URL: "channel_8",
			Members: []types.Member{
				{UserID: "u1"},
				{Nickname: "ghost", MetaData: types.MemberMetaData{Email: "ghost@x.com"}},
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, d.dispatchCalls, 1)
	assert.Equal(t, "ghost@x.com", d.dispatchCalls[0].To)
	assert.Nil(t, r.LastError())
}

func TestOnOutboundMessage_MemberWithoutAddressRejected(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		MessageID:   "m9",
		Body:        "hi",
		Channel: &types.Channel{
			URL:     "channel_9",
			Members: []types.Member{{UserID: "u1"}, {Nickname: "ghost"}},
		},
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeRecipientResolution, appErr.Code)
	assert.Empty(t, d.dispatchCalls)
}

func TestOnOutboundMessage_NoCounterpartRejectsWithoutDispatch(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		MessageID:   "m3",
		Body:        "hi",
		Channel: &types.Channel{
			URL:     "channel_3",
			Members: []types.Member{{UserID: "u1"}},
		},
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeRecipientResolution, appErr.Code)

	assert.Empty(t, d.dispatchCalls)
	assert.Empty(t, e.events)
	require.NotNil(t, r.LastError())
	assert.Equal(t, types.ErrCodeRecipientResolution, r.LastError().Code)
}

func TestOnOutboundMessage_FetchesChannelWhenAbsent(t *testing.T) {
	d, e := okDispatcher(), &fakeEmitter{}
	f := &fakeFetcher{channel: twoMemberChannel()}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		ChannelURL:  "channel_1",
		MessageID:   "m4",
		Body:        "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"channel_1"}, f.calls)
	require.Len(t, d.dispatchCalls, 1)
	assert.Equal(t, "u2@x.com", d.dispatchCalls[0].To)
}

func TestOnOutboundMessage_ChannelFetchFailureAborts(t *testing.T) {
	d, e := okDispatcher(), &fakeEmitter{}
	f := &fakeFetcher{err: types.NewAppError(types.ErrCodeChannelResolution, "channel fetch failed", nil)}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		ChannelURL:  "channel_1",
		MessageID:   "m5",
		Body:        "hi",
	})
	require.Error(t, err)

	// One fetch, no retries, no dispatch.
	assert.Equal(t, []string{"channel_1"}, f.calls)
	assert.Empty(t, d.dispatchCalls)
	require.NotNil(t, r.LastError())
	assert.Equal(t, types.ErrCodeChannelResolution, r.LastError().Code)
}

func TestOnOutboundMessage_DispatchFailureRecordedNotRetried(t *testing.T) {
	d := &fakeDispatcher{
		err: types.NewAppErrorWithDetails(types.ErrCodeDispatchFailed, "provider rejected send", nil,
			map[string]any{"status": 400}),
	}
	f, e := &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		MessageID:   "m6",
		Body:        "hi",
		Channel:     twoMemberChannel(),
	})
	require.Error(t, err)

	assert.Len(t, d.dispatchCalls, 1, "failed dispatch must not be retried")
	assert.Empty(t, e.events, "no report is emitted for a failed dispatch")
	require.NotNil(t, r.LastError())
	assert.Equal(t, types.ErrCodeDispatchFailed, r.LastError().Code)
}

func TestOnOutboundMessage_SuccessClearsPriorError(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	r.errs.Record(types.NewAppError(types.ErrCodeDispatchFailed, "stale failure", nil))

	err := r.OnOutboundMessage(context.Background(), types.ChatMessageEvent{
		MessageType: types.MessageTypeEmail,
		SenderID:    "u1",
		MessageID:   "m7",
		Body:        "hi",
		Channel:     twoMemberChannel(),
	})
	require.NoError(t, err)
	assert.Nil(t, r.LastError())
}

func TestOnInboundRelayEmailRequest_DefaultsAndAck(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	r.OnInboundRelayEmailRequest(context.Background(),
		json.RawMessage(`{"id":"e1","templateParams":{"to_email":"x@y.com"}}`))

	require.Len(t, d.templateCalls, 1)
	// Empty overrides pass through; the dispatcher applies static defaults.
	assert.Equal(t, "", d.templateCalls[0].serviceID)
	assert.Equal(t, "", d.templateCalls[0].templateID)
	assert.Equal(t, "x@y.com", d.templateCalls[0].params["to_email"])

	require.Equal(t, []string{types.EventEmailSent}, e.events)
	sent := e.payloads[0].(types.EmailSentEvent)
	assert.Equal(t, types.EmailSentEvent{
		EmailID:  "e1",
		Success:  true,
		Response: types.ProviderResponse{Status: 200, Text: "OK"},
	}, sent)
}

func TestOnInboundRelayEmailRequest_OverridesForwarded(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	r.OnInboundRelayEmailRequest(context.Background(),
		json.RawMessage(`{"id":"e2","serviceId":"svc_9","templateId":"tpl_9","templateParams":{}}`))

	require.Len(t, d.templateCalls, 1)
	assert.Equal(t, "svc_9", d.templateCalls[0].serviceID)
	assert.Equal(t, "tpl_9", d.templateCalls[0].templateID)
}

func TestOnInboundRelayEmailRequest_FailureEmitsEmailError(t *testing.T) {
	d := &fakeDispatcher{
		err: types.NewAppErrorWithDetails(types.ErrCodeDispatchFailed, "invalid public key", nil,
			map[string]any{"status": 403}),
	}
	f, e := &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	r.OnInboundRelayEmailRequest(context.Background(),
		json.RawMessage(`{"id":"e3","templateParams":{}}`))

	require.Equal(t, []string{types.EventEmailError}, e.events)
	errEvent := e.payloads[0].(types.EmailErrorEvent)
	assert.Equal(t, "e3", errEvent.EmailID)
	assert.Equal(t, "invalid public key", errEvent.Error.Message)
	assert.Equal(t, 403, errEvent.Error.Status)

	// Relay-triggered failures never surface in the UI error state.
	assert.Nil(t, r.LastError())
}

func TestOnInboundRelayEmailRequest_MalformedPayload(t *testing.T) {
	d, f, e := okDispatcher(), &fakeFetcher{}, &fakeEmitter{}
	r := newTestRouter(d, f, e)

	r.OnInboundRelayEmailRequest(context.Background(), json.RawMessage(`{broken`))

	assert.Empty(t, d.templateCalls)
	assert.Empty(t, e.events)
}

func TestDismissError(t *testing.T) {
	r := newTestRouter(okDispatcher(), &fakeFetcher{}, &fakeEmitter{})
	r.errs.Record(types.NewAppError(types.ErrCodeDispatchFailed, "boom", nil))
	require.NotNil(t, r.LastError())
	r.DismissError()
	assert.Nil(t, r.LastError())
}
