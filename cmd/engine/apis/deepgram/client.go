// Package deepgram implements the realtime transcription client for the
// Deepgram listen API. Unlike the task-based provider there is no session
// establishment step: the websocket is opened directly with the streaming
// parameters in the query string and raw little-endian PCM16 frames follow
// immediately.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
	"github.com/meetscribe/session-engine/cmd/engine/pcm"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-2"

	eventChBuffer = 128
)

// ErrMissingCredentials is returned by Start before any network call when
// the API key is absent.
var ErrMissingCredentials = errors.New("deepgram API key is missing")

const (
	stateIdle int32 = iota
	stateConnecting
	stateStreaming
	stateClosing
)

// Config configures one realtime listen connection.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Channels   int

	// EndpointingMS sets the server-side silence window that finalizes an
	// utterance. Zero leaves the service default.
	EndpointingMS int
	SmartFormat   bool
	Diarize       bool

	// Endpoint overrides the websocket URL. Tests use this.
	Endpoint string
}

func (c Config) IsValid() error {
	if c.APIKey == "" {
		return ErrMissingCredentials
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid Channels: %d", c.Channels)
	}
	return nil
}

// Client is the Provider B realtime adapter. It implements asr.Client.
type Client struct {
	cfg Config

	state    atomic.Int32
	writeMut sync.Mutex
	conn     *websocket.Conn
	events   chan asr.Event
	stopOnce sync.Once
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	return &Client{
		cfg:    cfg,
		events: make(chan asr.Event, eventChBuffer),
	}
}

func (c *Client) Events() <-chan asr.Event {
	return c.events
}

func (c *Client) Start(ctx context.Context) error {
	if err := c.cfg.IsValid(); err != nil {
		return err
	}

	if !c.state.CompareAndSwap(stateIdle, stateConnecting) {
		return nil
	}

	qs := url.Values{}
	qs.Set("model", c.cfg.Model)
	if c.cfg.Language != "" {
		qs.Set("language", c.cfg.Language)
	}
	qs.Set("encoding", "linear16")
	qs.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	qs.Set("channels", strconv.Itoa(c.cfg.Channels))
	qs.Set("interim_results", "true")
	qs.Set("punctuate", "true")
	if c.cfg.EndpointingMS > 0 {
		qs.Set("endpointing", strconv.Itoa(c.cfg.EndpointingMS))
	}
	if c.cfg.SmartFormat {
		qs.Set("smart_format", "true")
	}
	if c.cfg.Diarize {
		qs.Set("diarize", "true")
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.Endpoint+"?"+qs.Encode(), header)
	if err != nil {
		c.state.Store(stateIdle)
		return fmt.Errorf("failed to open listen websocket: %w", err)
	}

	c.conn = conn
	c.state.Store(stateStreaming)
	go c.readLoop(conn)

	return nil
}

// SendAudio streams one PCM16 frame. A no-op unless the client is streaming.
func (c *Client) SendAudio(samples []int16) error {
	if c.state.Load() != stateStreaming {
		return nil
	}

	c.writeMut.Lock()
	defer c.writeMut.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm.ToLittleEndian(samples)); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}

	return nil
}

// Stop sends the CloseStream control message and tears down the transport.
func (c *Client) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		prev := c.state.Swap(stateClosing)
		if prev == stateStreaming {
			c.writeMut.Lock()
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
				slog.Debug("failed to send CloseStream", slog.String("err", err.Error()))
			}
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
			c.writeMut.Unlock()
		}
		c.state.Store(stateIdle)
	})

	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.events)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if ev, ok := parseResultsEvent(payload); ok {
			c.events <- ev
		}
	}
}

type resultsMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResultsEvent extracts the first alternative's transcript from a
// Results message. Every other event type is skipped, which keeps the loop
// forward-compatible with new server events.
func parseResultsEvent(payload []byte) (asr.Event, bool) {
	var msg resultsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return asr.Event{}, false
	}

	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return asr.Event{}, false
	}

	text := msg.Channel.Alternatives[0].Transcript
	if text == "" {
		return asr.Event{}, false
	}

	return asr.Event{
		Kind:    asr.EventTranscript,
		Text:    text,
		IsFinal: msg.IsFinal,
	}, true
}

// TestConnection opens and immediately closes a listen websocket to verify
// the API key. Only used by settings diagnostics.
func (c *Client) TestConnection(ctx context.Context, timeout time.Duration) error {
	if err := c.cfg.IsValid(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)

	qs := url.Values{}
	qs.Set("model", c.cfg.Model)
	qs.Set("encoding", "linear16")
	qs.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	qs.Set("channels", strconv.Itoa(c.cfg.Channels))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.Endpoint+"?"+qs.Encode(), header)
	if err != nil {
		return fmt.Errorf("failed to open listen websocket: %w", err)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	return conn.Close()
}
