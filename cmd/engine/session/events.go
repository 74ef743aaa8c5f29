package session

import (
	"log/slog"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
)

// SessionState is the lifecycle phase of the engine.
type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateStarting SessionState = "starting"
	StateRunning  SessionState = "running"
	StateStopping SessionState = "stopping"
	StateError    SessionState = "error"
)

// PermissionState records the capture-permission outcome of session start.
type PermissionState string

const (
	PermissionUnknown     PermissionState = "unknown"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionFallbackMic PermissionState = "fallbackMicrophone"
)

// Warning codes surfaced on RuntimeStatus.
const (
	WarningScreenPermissionFallback = "SCREEN_PERMISSION_FALLBACK"
)

// Message codes for diagnostic events.
const (
	MessageSessionStartFailed = "SESSION_START_FAILED"
	MessageASRSendFailed      = "ASR_SEND_FAILED"
	MessageASRFallback        = "ASR_PROVIDER_FALLBACK"
	MessageTranslationFailed  = "TRANSLATION_FAILED"
	MessageHintFailed         = "HINT_ENGINE_FAILED"
)

// RuntimeStatus is the single source of truth for session lifecycle. The
// engine owns it exclusively and publishes it on every transition.
type RuntimeStatus struct {
	SessionState    SessionState    `json:"sessionState"`
	PermissionState PermissionState `json:"permissionState"`
	ActiveProviders []string        `json:"activeProviders"`
	WarningCode     string          `json:"warningCode,omitempty"`
}

// HintDelta is one streamed piece of answer-hint text. Done marks the end
// of one hint.
type HintDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
}

// EventSink receives everything the engine emits. Implementations decide
// the threading model (e.g. marshaling onto a UI loop); the engine calls a
// sink from multiple goroutines but never concurrently for status events.
type EventSink interface {
	PublishStatus(status RuntimeStatus)
	PublishTranscript(chunk asr.TranscriptChunk)
	PublishTranslation(chunk asr.TranslationChunk)
	PublishHint(delta HintDelta)
	PublishMessage(code, text string)
}

// LogSink is an EventSink that writes everything to slog. It is the default
// when no presentation layer is attached.
type LogSink struct{}

func (LogSink) PublishStatus(status RuntimeStatus) {
	slog.Info("session status",
		slog.String("state", string(status.SessionState)),
		slog.String("permission", string(status.PermissionState)),
		slog.Any("providers", status.ActiveProviders),
		slog.String("warning", status.WarningCode))
}

func (LogSink) PublishTranscript(chunk asr.TranscriptChunk) {
	slog.Debug("transcript",
		slog.String("provider", chunk.Provider),
		slog.Bool("final", chunk.IsFinal),
		slog.String("text", chunk.Text))
}

func (LogSink) PublishTranslation(chunk asr.TranslationChunk) {
	slog.Debug("translation",
		slog.String("provider", chunk.Provider),
		slog.Bool("final", chunk.IsFinal),
		slog.String("text", chunk.Text))
}

func (LogSink) PublishHint(delta HintDelta) {
	if delta.Done {
		slog.Debug("hint done", slog.String("id", delta.ID))
		return
	}
	slog.Debug("hint delta", slog.String("id", delta.ID), slog.String("delta", delta.Delta))
}

func (LogSink) PublishMessage(code, text string) {
	slog.Warn("session message", slog.String("code", code), slog.String("text", text))
}
