// Package asr defines the provider-neutral capability implemented by the
// realtime speech clients and the typed chunks they produce.
package asr

import (
	"context"
	"time"
)

// Provider identifies a realtime speech provider.
type Provider string

const (
	ProviderAliyun   Provider = "aliyun"
	ProviderDeepgram Provider = "deepgram"
)

func (p Provider) IsValid() bool {
	switch p {
	case ProviderAliyun, ProviderDeepgram:
		return true
	default:
		return false
	}
}

// EventKind discriminates the two streams a dual-purpose client can emit.
type EventKind int

const (
	EventTranscript EventKind = iota
	EventTranslation
)

// Event is one parsed recognition or translation result from a provider
// stream. SentenceIndex is set only by providers that number utterances.
type Event struct {
	Kind          EventKind
	Text          string
	IsFinal       bool
	SentenceIndex int64
	HasIndex      bool
}

// Client is the capability shared by all realtime provider adapters.
//
// Start transitions idle → connecting → streaming. SendAudio is a no-op
// unless the client is streaming; transport errors on send are returned so
// the caller can log and swallow them without stopping the pipeline. The
// events channel is closed when the receive loop ends, whether by Stop or by
// a transport failure. Stop is graceful: it sends the provider's close
// control message if the connection is live, then tears the transport down.
type Client interface {
	Start(ctx context.Context) error
	SendAudio(pcm []int16) error
	Stop(ctx context.Context) error
	Events() <-chan Event
}

// TranscriptChunk is one recognition result as routed through the session
// engine. Interim chunks supersede the previous interim chunk from the same
// stream; final chunks are immutable once emitted.
type TranscriptChunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
}

// TranslationChunk mirrors TranscriptChunk for the translation stream.
type TranslationChunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
}
