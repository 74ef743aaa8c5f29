package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
)

func TestParseResultsEvent(t *testing.T) {
	t.Run("interim result", func(t *testing.T) {
		ev, ok := parseResultsEvent([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello wor"}]}}`))
		require.True(t, ok)
		require.Equal(t, asr.Event{Kind: asr.EventTranscript, Text: "hello wor"}, ev)
	})

	t.Run("final result", func(t *testing.T) {
		ev, ok := parseResultsEvent([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello world."}]}}`))
		require.True(t, ok)
		require.True(t, ev.IsFinal)
		require.Equal(t, "Hello world.", ev.Text)
	})

	t.Run("first alternative wins", func(t *testing.T) {
		ev, ok := parseResultsEvent([]byte(`{"type":"Results","channel":{"alternatives":[{"transcript":"first"},{"transcript":"second"}]}}`))
		require.True(t, ok)
		require.Equal(t, "first", ev.Text)
	})

	t.Run("skipped messages", func(t *testing.T) {
		for name, payload := range map[string]string{
			"metadata":         `{"type":"Metadata"}`,
			"empty transcript": `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`,
			"no alternatives":  `{"type":"Results","channel":{"alternatives":[]}}`,
			"malformed":        `{`,
		} {
			t.Run(name, func(t *testing.T) {
				_, ok := parseResultsEvent([]byte(payload))
				require.False(t, ok)
			})
		}
	})
}

type fakeListen struct {
	t        *testing.T
	upgrader websocket.Upgrader

	srv *httptest.Server

	gotQuery  chan map[string]string
	gotAuth   chan string
	gotAudio  chan []byte
	gotClose  chan struct{}
	responses []string
}

func newFakeListen(t *testing.T, responses []string) *fakeListen {
	f := &fakeListen{
		t:         t,
		gotQuery:  make(chan map[string]string, 1),
		gotAuth:   make(chan string, 1),
		gotAudio:  make(chan []byte, 16),
		gotClose:  make(chan struct{}, 1),
		responses: responses,
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := make(map[string]string)
		for key, values := range r.URL.Query() {
			query[key] = values[0]
		}
		f.gotQuery <- query
		f.gotAuth <- r.Header.Get("Authorization")

		conn, err := f.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for _, resp := range f.responses {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(resp)))
		}

		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				f.gotAudio <- payload
				continue
			}
			var msg struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(payload, &msg) == nil && msg.Type == "CloseStream" {
				f.gotClose <- struct{}{}
			}
		}
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeListen) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
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
	svc := newFakeListen(t, []string{
		`{"type":"Metadata"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello."}]}}`,
	})

	c := NewClient(Config{
		APIKey:        "key",
		Language:      "en-US",
		SampleRate:    16000,
		Channels:      1,
		EndpointingMS: 300,
		SmartFormat:   true,
		Endpoint:      svc.wsURL(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx))

	query := recvWithin(t, svc.gotQuery, 2*time.Second)
	require.Equal(t, "nova-2", query["model"])
	require.Equal(t, "en-US", query["language"])
	require.Equal(t, "linear16", query["encoding"])
	require.Equal(t, "16000", query["sample_rate"])
	require.Equal(t, "1", query["channels"])
	require.Equal(t, "true", query["interim_results"])
	require.Equal(t, "true", query["punctuate"])
	require.Equal(t, "300", query["endpointing"])
	require.Equal(t, "true", query["smart_format"])

	require.Equal(t, "Token key", recvWithin(t, svc.gotAuth, 2*time.Second))

	ev := recvWithin(t, c.Events(), 2*time.Second)
	require.Equal(t, "hel", ev.Text)
	require.False(t, ev.IsFinal)

	ev = recvWithin(t, c.Events(), 2*time.Second)
	require.Equal(t, "Hello.", ev.Text)
	require.True(t, ev.IsFinal)

	require.NoError(t, c.SendAudio([]int16{256, -1}))
	require.Equal(t, []byte{0x00, 0x01, 0xff, 0xff}, recvWithin(t, svc.gotAudio, 2*time.Second))

	require.NoError(t, c.Stop(ctx))
	recvWithin(t, svc.gotClose, 2*time.Second)

	for range c.Events() {
	}

	require.NoError(t, c.Stop(ctx))
}

func TestClientStartErrors(t *testing.T) {
	t.Run("missing API key", func(t *testing.T) {
		c := NewClient(Config{SampleRate: 16000, Channels: 1})
		require.ErrorIs(t, c.Start(context.Background()), ErrMissingCredentials)
	})

	t.Run("invalid sample rate", func(t *testing.T) {
		c := NewClient(Config{APIKey: "key", Channels: 1})
		require.Error(t, c.Start(context.Background()))
	})
}

func TestSendAudioBeforeStart(t *testing.T) {
	c := NewClient(Config{})
	require.NoError(t, c.SendAudio([]int16{1}))
}
