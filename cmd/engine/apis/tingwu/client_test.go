package tingwu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
)

func TestParseEventPayload(t *testing.T) {
	t.Run("intermediate result", func(t *testing.T) {
		payload := []byte(`{"header":{"name":"TranscriptionResultChanged"},"payload":{"result":" hello there ","index":3}}`)
		events := parseEventPayload(payload, true, true)
		require.Len(t, events, 1)
		require.Equal(t, asr.Event{
			Kind:          asr.EventTranscript,
			Text:          "hello there",
			IsFinal:       false,
			SentenceIndex: 3,
			HasIndex:      true,
		}, events[0])
	})

	t.Run("only SentenceEnd is final", func(t *testing.T) {
		for name, final := range map[string]bool{
			"SentenceBegin":              false,
			"TranscriptionResultChanged": false,
			"SentenceEnd":                true,
		} {
			payload := []byte(fmt.Sprintf(`{"header":{"name":"%s"},"payload":{"result":"text"}}`, name))
			events := parseEventPayload(payload, true, true)
			require.Len(t, events, 1)
			require.Equal(t, final, events[0].IsFinal, name)
		}
	})

	t.Run("transcript suppressed when not captured", func(t *testing.T) {
		payload := []byte(`{"header":{"name":"SentenceEnd"},"payload":{"result":"text"}}`)
		require.Empty(t, parseEventPayload(payload, false, true))
	})

	t.Run("empty result skipped", func(t *testing.T) {
		payload := []byte(`{"header":{"name":"SentenceEnd"},"payload":{"result":"  "}}`)
		require.Empty(t, parseEventPayload(payload, true, true))
	})

	t.Run("translation joins items with single spaces", func(t *testing.T) {
		payload := []byte(`{"header":{"name":"ResultTranslated"},"payload":{"partial":true,"translate_result":[{"text":" part one ","index":7},{"text":""},{"text":"part two"}]}}`)
		events := parseEventPayload(payload, true, true)
		require.Len(t, events, 1)
		require.Equal(t, asr.Event{
			Kind:          asr.EventTranslation,
			Text:          "part one part two",
			IsFinal:       false,
			SentenceIndex: 7,
			HasIndex:      true,
		}, events[0])
	})

	t.Run("non-partial translation is final", func(t *testing.T) {
		payload := []byte(`{"header":{"name":"ResultTranslated"},"payload":{"partial":false,"translate_result":[{"text":"done"}]}}`)
		events := parseEventPayload(payload, true, true)
		require.Len(t, events, 1)
		require.True(t, events[0].IsFinal)
	})

	t.Run("translation suppressed when disabled", func(t *testing.T) {
		payload := []byte(`{"header":{"name":"ResultTranslated"},"payload":{"translate_result":[{"text":"done"}]}}`)
		require.Empty(t, parseEventPayload(payload, true, false))
	})

	t.Run("unknown and malformed messages skipped", func(t *testing.T) {
		require.Empty(t, parseEventPayload([]byte(`{"header":{"name":"TaskFailed"}}`), true, true))
		require.Empty(t, parseEventPayload([]byte(`not json`), true, true))
	})
}

// fakeService fakes both halves of the provider: the signed task API and the
// meeting websocket.
type fakeService struct {
	t        *testing.T
	upgrader websocket.Upgrader

	srv *httptest.Server

	startReceived chan controlMessage
	stopReceived  chan controlMessage
	audioReceived chan []byte
	released      chan string

	// serverEvents is sent to the client after StartTranscription arrives.
	serverEvents []string
}

func newFakeService(t *testing.T, serverEvents []string) *fakeService {
	f := &fakeService{
		t:             t,
		startReceived: make(chan controlMessage, 1),
		stopReceived:  make(chan controlMessage, 1),
		audioReceived: make(chan []byte, 16),
		released:      make(chan string, 1),
		serverEvents:  serverEvents,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(tasksPath, f.handleTasks)
	mux.HandleFunc("/meeting", f.handleMeeting)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeService) handleTasks(w http.ResponseWriter, r *http.Request) {
	require.Equal(f.t, http.MethodPut, r.Method)
	require.True(f.t, strings.HasPrefix(r.Header.Get("Authorization"), "acs "))
	require.NotEmpty(f.t, r.Header.Get("Content-Md5"))
	require.Equal(f.t, "2023-09-30", r.Header.Get("X-Acs-Version"))

	if r.URL.Query().Get("operation") == "stop" {
		var body struct {
			TaskID string `json:"TaskId"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.released <- body.TaskID
		fmt.Fprint(w, `{}`)
		return
	}

	require.Equal(f.t, "realtime", r.URL.Query().Get("type"))
	var body map[string]any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	require.Equal(f.t, true, body["TranscriptionEnabled"])

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/meeting"
	fmt.Fprintf(w, `{"Data":{"TaskId":"task-1","MeetingJoinUrl":%q}}`, wsURL)
}

func (f *fakeService) handleMeeting(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	require.NoError(f.t, err)
	defer conn.Close()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.BinaryMessage {
			f.audioReceived <- payload
			continue
		}

		var msg controlMessage
		require.NoError(f.t, json.Unmarshal(payload, &msg))
		switch msg.Header.Name {
		case "StartTranscription":
			f.startReceived <- msg
			for _, ev := range f.serverEvents {
				require.NoError(f.t, conn.WriteMessage(websocket.TextMessage, []byte(ev)))
			}
		case "StopTranscription":
			f.stopReceived <- msg
		}
	}
}

func recvWithin[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for channel")
		panic("unreachable")
	}
}

func TestClientLifecycle(t *testing.T) {
	svc := newFakeService(t, []string{
		`{"header":{"name":"TranscriptionResultChanged"},"payload":{"result":"inter","index":1}}`,
		`{"header":{"name":"SentenceEnd"},"payload":{"result":"Interred.","index":1}}`,
		`{"header":{"name":"ResultTranslated"},"payload":{"partial":false,"translate_result":[{"text":"翻译","index":1}]}}`,
	})

	c := NewClient(Config{
		AccessKeyID:        "id",
		AccessKeySecret:    "secret",
		AppKey:             "app",
		SourceLanguage:     "en",
		TargetLanguage:     "cn",
		SampleRate:         16000,
		CaptureTranscript:  true,
		TranslationEnabled: true,
		Endpoint:           svc.srv.URL,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx))

	start := recvWithin(t, svc.startReceived, 2*time.Second)
	require.Equal(t, "app", start.Header.AppKey)
	require.Equal(t, "SpeechTranscriber", start.Header.Namespace)
	require.EqualValues(t, 16000, start.Payload["sample_rate"])
	require.Equal(t, "pcm", start.Payload["format"])

	ev := recvWithin(t, c.Events(), 2*time.Second)
	require.Equal(t, asr.EventTranscript, ev.Kind)
	require.Equal(t, "inter", ev.Text)
	require.False(t, ev.IsFinal)

	ev = recvWithin(t, c.Events(), 2*time.Second)
	require.Equal(t, "Interred.", ev.Text)
	require.True(t, ev.IsFinal)

	ev = recvWithin(t, c.Events(), 2*time.Second)
	require.Equal(t, asr.EventTranslation, ev.Kind)
	require.Equal(t, "翻译", ev.Text)
	require.True(t, ev.IsFinal)

	require.NoError(t, c.SendAudio([]int16{1, -2, 256}))
	audio := recvWithin(t, svc.audioReceived, 2*time.Second)
	require.Equal(t, []byte{0x01, 0x00, 0xfe, 0xff, 0x00, 0x01}, audio)

	require.NoError(t, c.Stop(ctx))
	stop := recvWithin(t, svc.stopReceived, 2*time.Second)
	require.Equal(t, "StopTranscription", stop.Header.Name)
	require.Equal(t, "task-1", recvWithin(t, svc.released, 2*time.Second))

	// The events channel closes once the transport goes down.
	for range c.Events() {
	}

	// Stop is idempotent.
	require.NoError(t, c.Stop(ctx))
}

func TestClientStartErrors(t *testing.T) {
	t.Run("missing credentials fail before any network call", func(t *testing.T) {
		c := NewClient(Config{SourceLanguage: "en", TargetLanguage: "cn", SampleRate: 16000}, nil)
		require.ErrorIs(t, c.Start(context.Background()), ErrMissingCredentials)
	})

	t.Run("unsupported language fails before any network call", func(t *testing.T) {
		c := NewClient(Config{
			AccessKeyID:     "id",
			AccessKeySecret: "secret",
			AppKey:          "app",
			SourceLanguage:  "xx",
			TargetLanguage:  "cn",
			SampleRate:      16000,
		}, nil)
		require.Error(t, c.Start(context.Background()))
	})

	t.Run("task API error carries the service diagnostics", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"Code":"Tingwu.InvalidTenant","Message":"tenant mismatch","RequestId":"req-1"}`)
		}))
		defer srv.Close()

		c := NewClient(Config{
			AccessKeyID:     "id",
			AccessKeySecret: "secret",
			AppKey:          "app",
			SourceLanguage:  "en",
			TargetLanguage:  "cn",
			SampleRate:      16000,
			Endpoint:        srv.URL,
		}, nil)

		err := c.Start(context.Background())
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		require.Equal(t, http.StatusForbidden, svcErr.StatusCode)
		require.Equal(t, "Tingwu.InvalidTenant", svcErr.Code)
		require.Equal(t, "req-1", svcErr.RequestID)
		require.Contains(t, svcErr.Suggestion, "same Aliyun account")
	})
}

func TestSendAudioBeforeStart(t *testing.T) {
	c := NewClient(Config{}, nil)
	require.NoError(t, c.SendAudio([]int16{1, 2, 3}))
}

func TestTestConnection(t *testing.T) {
	svc := newFakeService(t, nil)

	c := NewClient(Config{
		AccessKeyID:     "id",
		AccessKeySecret: "secret",
		AppKey:          "app",
		SourceLanguage:  "en",
		TargetLanguage:  "cn",
		SampleRate:      16000,
		Endpoint:        svc.srv.URL,
	}, nil)

	require.NoError(t, c.TestConnection(context.Background(), 5*time.Second))
	require.Equal(t, "task-1", recvWithin(t, svc.released, 2*time.Second))
}
