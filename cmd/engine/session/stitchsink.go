package session

import (
	"sync"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
	"github.com/meetscribe/session-engine/cmd/engine/stitch"
)

// StitchSink folds the transcript and translation streams into two merged
// line views on their way to an inner sink. The presentation layer reads
// the views through TranscriptLines/TranslationLines instead of stitching
// chunks itself.
type StitchSink struct {
	inner EventSink

	mut         sync.Mutex
	transcript  *stitch.Stitcher
	translation *stitch.Stitcher
	onUpdate    func()
}

// NewStitchSink wraps inner. onUpdate, if not nil, fires after either view
// changes; it is called with the sink's lock released.
func NewStitchSink(inner EventSink, onUpdate func()) *StitchSink {
	if inner == nil {
		inner = LogSink{}
	}
	return &StitchSink{
		inner:       inner,
		transcript:  stitch.NewTranscriptStitcher(stitch.DefaultOptions()),
		translation: stitch.NewTranslationStitcher(stitch.DefaultOptions()),
		onUpdate:    onUpdate,
	}
}

func (s *StitchSink) TranscriptLines() []stitch.Line {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]stitch.Line(nil), s.transcript.Lines()...)
}

func (s *StitchSink) TranslationLines() []stitch.Line {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]stitch.Line(nil), s.translation.Lines()...)
}

func (s *StitchSink) PublishStatus(status RuntimeStatus) {
	s.inner.PublishStatus(status)
}

func (s *StitchSink) PublishTranscript(chunk asr.TranscriptChunk) {
	s.mut.Lock()
	s.transcript.Apply(stitch.Chunk{
		ID:        chunk.ID,
		Text:      chunk.Text,
		IsFinal:   chunk.IsFinal,
		Provider:  chunk.Provider,
		Timestamp: chunk.Timestamp,
	})
	s.mut.Unlock()

	s.inner.PublishTranscript(chunk)
	s.notify()
}

func (s *StitchSink) PublishTranslation(chunk asr.TranslationChunk) {
	s.mut.Lock()
	s.translation.Apply(stitch.Chunk{
		ID:        chunk.ID,
		Text:      chunk.Text,
		IsFinal:   chunk.IsFinal,
		Provider:  chunk.Provider,
		Timestamp: chunk.Timestamp,
	})
	s.mut.Unlock()

	s.inner.PublishTranslation(chunk)
	s.notify()
}

func (s *StitchSink) PublishHint(delta HintDelta) {
	s.inner.PublishHint(delta)
}

func (s *StitchSink) PublishMessage(code, text string) {
	s.inner.PublishMessage(code, text)
}

func (s *StitchSink) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
