// Package tingwu implements the realtime meeting transcription/translation
// client for Aliyun Tingwu. A session is established by a signed HTTP call
// that allocates a server-side task and returns a join URL; audio is then
// streamed over a websocket as raw little-endian PCM16 frames bracketed by
// StartTranscription/StopTranscription control messages. Stopping requires
// both the websocket control frame and a second signed HTTP call releasing
// the task.
package tingwu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
	"github.com/meetscribe/session-engine/cmd/engine/pcm"
)

const (
	defaultEndpoint = "https://tingwu.cn-beijing.aliyuncs.com"
	tasksPath       = "/openapi/tingwu/v2/tasks"

	eventChBuffer = 256
)

// ErrMissingCredentials is returned by Start before any network call when
// the access key pair or app key is absent.
var ErrMissingCredentials = errors.New("tingwu credentials are missing")

// ServiceError carries the provider's diagnostic payload for a non-2xx task
// API response.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Suggestion string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("tingwu task API error (status=%d, code=%s, requestID=%s): %s",
		e.StatusCode, e.Code, e.RequestID, e.Message)
	if e.Suggestion != "" {
		msg += " — " + e.Suggestion
	}
	return msg
}

// client state machine
const (
	stateIdle int32 = iota
	stateConnecting
	stateStreaming
	stateClosing
)

// Config configures one Tingwu realtime connection. A single connection can
// serve as a transcript source, a translation source, or both.
type Config struct {
	AccessKeyID     string
	AccessKeySecret string
	AppKey          string

	SourceLanguage string
	TargetLanguage string
	SampleRate     int

	// CaptureTranscript opts in to transcript events. When false the client
	// is translation-only: sentence events are dropped and only
	// ResultTranslated events are emitted.
	CaptureTranscript  bool
	TranslationEnabled bool

	// Endpoint overrides the task API endpoint. Tests use this.
	Endpoint string
}

func (c Config) IsValid() error {
	if c.AccessKeyID == "" || c.AccessKeySecret == "" || c.AppKey == "" {
		return ErrMissingCredentials
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", c.SampleRate)
	}
	return nil
}

// Client is the Provider A realtime adapter. It implements asr.Client.
type Client struct {
	cfg        Config
	httpClient *http.Client

	state    atomic.Int32
	writeMut sync.Mutex
	conn     *websocket.Conn
	events   chan asr.Event

	streamTaskID string
	taskID       string
	stopOnce     sync.Once
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		events:     make(chan asr.Event, eventChBuffer),
	}
}

func (c *Client) Events() <-chan asr.Event {
	return c.events
}

func (c *Client) Start(ctx context.Context) error {
	if err := c.cfg.IsValid(); err != nil {
		return err
	}

	// Language codes fail fast, before any network call.
	sourceLang, err := ValidateSourceLanguage(c.cfg.SourceLanguage)
	if err != nil {
		return err
	}
	targetLang, err := ValidateTargetLanguage(c.cfg.TargetLanguage)
	if err != nil {
		return err
	}

	if !c.state.CompareAndSwap(stateIdle, stateConnecting) {
		return nil
	}

	task, err := c.createTask(ctx, sourceLang, targetLang)
	if err != nil {
		c.state.Store(stateIdle)
		return err
	}
	c.taskID = task.taskID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, task.meetingJoinURL, nil)
	if err != nil {
		c.state.Store(stateIdle)
		// Release the task we just allocated so it doesn't leak server side.
		c.releaseTask(context.Background())
		return fmt.Errorf("failed to connect meeting websocket: %w", err)
	}

	c.conn = conn
	c.streamTaskID = uuid.NewString()

	start := controlMessage{
		Header: controlHeader{
			AppKey:    c.cfg.AppKey,
			MessageID: uuid.NewString(),
			TaskID:    c.streamTaskID,
			Namespace: "SpeechTranscriber",
			Name:      "StartTranscription",
		},
		Payload: map[string]any{
			"format":                            "pcm",
			"sample_rate":                       c.cfg.SampleRate,
			"enable_intermediate_result":        true,
			"enable_inverse_text_normalization": true,
		},
	}
	if err := c.writeJSON(start); err != nil {
		c.state.Store(stateIdle)
		_ = conn.Close()
		c.releaseTask(context.Background())
		return fmt.Errorf("failed to start transcription stream: %w", err)
	}

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

// Stop sends the StopTranscription control frame, closes the websocket and
// releases the server-side task. Omitting either half leaks task resources,
// so both run even if one fails.
func (c *Client) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		prev := c.state.Swap(stateClosing)
		if prev == stateStreaming {
			stop := controlMessage{
				Header: controlHeader{
					AppKey:    c.cfg.AppKey,
					MessageID: uuid.NewString(),
					TaskID:    c.streamTaskID,
					Namespace: "SpeechTranscriber",
					Name:      "StopTranscription",
				},
				Payload: map[string]any{},
			}
			if err := c.writeJSON(stop); err != nil {
				slog.Debug("failed to send stop control frame", slog.String("err", err.Error()))
			}
			c.writeMut.Lock()
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
			c.writeMut.Unlock()
		}

		c.releaseTask(ctx)
		c.state.Store(stateIdle)
	})

	return nil
}

func (c *Client) writeJSON(msg controlMessage) error {
	c.writeMut.Lock()
	defer c.writeMut.Unlock()
	return c.conn.WriteJSON(msg)
}

// readLoop decodes one server message at a time. Unparseable or irrelevant
// messages are skipped; transport errors end the loop without propagating.
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

		for _, ev := range parseEventPayload(payload, c.cfg.CaptureTranscript, c.cfg.TranslationEnabled) {
			c.events <- ev
		}
	}
}

type controlHeader struct {
	AppKey    string `json:"appkey"`
	MessageID string `json:"message_id"`
	TaskID    string `json:"task_id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type controlMessage struct {
	Header  controlHeader  `json:"header"`
	Payload map[string]any `json:"payload"`
}

type serverMessage struct {
	Header struct {
		Name string `json:"name"`
	} `json:"header"`
	Payload struct {
		Result          string `json:"result"`
		Index           *int64 `json:"index"`
		Partial         bool   `json:"partial"`
		TranslateResult []struct {
			Text  string `json:"text"`
			Index *int64 `json:"index"`
		} `json:"translate_result"`
	} `json:"payload"`
}

// parseEventPayload turns one server message into zero or more events.
// Sentence completion is signaled by the event name, not a boolean flag:
// only SentenceEnd is final. Translation results carry an explicit partial
// flag instead, and multiple result items are joined with single spaces.
func parseEventPayload(payload []byte, captureTranscript, translationEnabled bool) []asr.Event {
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil
	}

	switch msg.Header.Name {
	case "TranscriptionResultChanged", "SentenceBegin", "SentenceEnd":
		if !captureTranscript {
			return nil
		}
		text := strings.TrimSpace(msg.Payload.Result)
		if text == "" {
			return nil
		}
		ev := asr.Event{
			Kind:    asr.EventTranscript,
			Text:    text,
			IsFinal: msg.Header.Name == "SentenceEnd",
		}
		if msg.Payload.Index != nil {
			ev.SentenceIndex = *msg.Payload.Index
			ev.HasIndex = true
		}
		return []asr.Event{ev}

	case "ResultTranslated":
		if !translationEnabled {
			return nil
		}
		var sb strings.Builder
		index := msg.Payload.Index
		for _, item := range msg.Payload.TranslateResult {
			if index == nil {
				index = item.Index
			}
			text := strings.TrimSpace(item.Text)
			if text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(text)
		}
		if sb.Len() == 0 {
			return nil
		}
		ev := asr.Event{
			Kind:    asr.EventTranslation,
			Text:    sb.String(),
			IsFinal: !msg.Payload.Partial,
		}
		if index != nil {
			ev.SentenceIndex = *index
			ev.HasIndex = true
		}
		return []asr.Event{ev}
	}

	return nil
}

type createTaskResult struct {
	taskID         string
	meetingJoinURL string
}

func (c *Client) createTask(ctx context.Context, sourceLang, targetLang string) (createTaskResult, error) {
	body, err := json.Marshal(map[string]any{
		"AppKey":               c.cfg.AppKey,
		"TranscriptionEnabled": true,
		"TranslationEnabled":   true,
		"SourceLanguage":       sourceLang,
		"TranslationLanguages": []string{targetLang},
	})
	if err != nil {
		return createTaskResult{}, fmt.Errorf("failed to marshal task body: %w", err)
	}

	resp, err := c.doSignedRequest(ctx, http.MethodPut, map[string]string{"type": "realtime"}, string(body))
	if err != nil {
		return createTaskResult{}, fmt.Errorf("failed to create task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return createTaskResult{}, serviceErrorFromResponse(resp)
	}

	var parsed struct {
		Data struct {
			TaskID         string `json:"TaskId"`
			MeetingJoinURL string `json:"MeetingJoinUrl"`
		} `json:"Data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return createTaskResult{}, fmt.Errorf("failed to parse create task response: %w", err)
	}

	if parsed.Data.TaskID == "" || parsed.Data.MeetingJoinURL == "" {
		return createTaskResult{}, fmt.Errorf("create task response missing TaskId or MeetingJoinUrl")
	}

	return createTaskResult{
		taskID:         parsed.Data.TaskID,
		meetingJoinURL: parsed.Data.MeetingJoinURL,
	}, nil
}

// releaseTask tells the task API to stop the server-side realtime task.
// Best effort: stop must always complete locally.
func (c *Client) releaseTask(ctx context.Context) {
	if c.taskID == "" {
		return
	}

	body, err := json.Marshal(map[string]any{"TaskId": c.taskID})
	if err != nil {
		return
	}

	query := map[string]string{
		"operation": "stop",
		"type":      "realtime",
	}
	resp, err := c.doSignedRequest(ctx, http.MethodPut, query, string(body))
	if err != nil {
		slog.Debug("failed to release tingwu task", slog.String("taskID", c.taskID), slog.String("err", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		slog.Debug("tingwu task release rejected",
			slog.String("taskID", c.taskID),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
	}
}

func (c *Client) doSignedRequest(ctx context.Context, method string, query map[string]string, body string) (*http.Response, error) {
	headers := signRequest(signedRequest{
		method: method,
		path:   tasksPath,
		query:  query,
		body:   body,
	}, c.cfg.AccessKeyID, c.cfg.AccessKeySecret)

	url := c.cfg.Endpoint + canonicalizedResource(tasksPath, query)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to build task request: %w", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	return c.httpClient.Do(req)
}

func serviceErrorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	svcErr := &ServiceError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(raw)),
	}

	var parsed struct {
		Code      string `json:"Code"`
		Message   string `json:"Message"`
		RequestID string `json:"RequestId"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Code != "" {
			svcErr.Code = parsed.Code
		}
		if parsed.Message != "" {
			svcErr.Message = parsed.Message
		}
		svcErr.RequestID = parsed.RequestID
	}

	// The one failure users hit constantly: the AppKey was created under a
	// different Aliyun account than the access key pair.
	if strings.Contains(svcErr.Code, "InvalidTenant") || strings.Contains(svcErr.Code, "AppKeyNotExist") {
		svcErr.Suggestion = "the AppKey does not belong to the account of the access key pair; " +
			"create the Tingwu project under the same Aliyun account"
	}

	return svcErr
}

// TestConnection verifies credentials and connectivity by allocating and
// immediately releasing a realtime task. It is only used by the settings
// diagnostics, never by a live session.
func (c *Client) TestConnection(ctx context.Context, timeout time.Duration) error {
	if err := c.cfg.IsValid(); err != nil {
		return err
	}

	sourceLang, err := ValidateSourceLanguage(c.cfg.SourceLanguage)
	if err != nil {
		return err
	}
	targetLang, err := ValidateTargetLanguage(c.cfg.TargetLanguage)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task, err := c.createTask(ctx, sourceLang, targetLang)
	if err != nil {
		return err
	}

	c.taskID = task.taskID
	c.releaseTask(ctx)

	return nil
}
