package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/session-engine/cmd/engine/asr"
	"github.com/meetscribe/session-engine/cmd/engine/hint"
)

// routeState tracks what has already been sent to the request/response
// translator. Interim recognition repeats the same text many times per
// second; finals repeat the last interim verbatim. Both get deduplicated
// here so one utterance costs one translation request.
type routeState struct {
	mut             sync.Mutex
	lastFinalText   string
	lastInterimText string
	debounceTimer   *time.Timer
}

func (r *routeState) stopTimer() {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
}

// routeTranscript feeds one recognition result into translation and hint
// generation. Finals translate immediately and cancel any pending interim
// request; interims restart the debounce window.
func (e *Engine) routeTranscript(s *liveSession, text string, isFinal bool) {
	if isFinal && s.hintGen != nil && hint.LooksLikeQuestion(text) {
		go e.runHint(s, text)
	}

	if s.translator == nil {
		return
	}

	r := s.route
	r.mut.Lock()
	defer r.mut.Unlock()

	if isFinal {
		if text == r.lastFinalText {
			return
		}
		r.lastFinalText = text
		r.lastInterimText = ""
		if r.debounceTimer != nil {
			r.debounceTimer.Stop()
			r.debounceTimer = nil
		}
		go e.translate(s, text, true)
		return
	}

	if text == r.lastInterimText {
		return
	}
	r.lastInterimText = text

	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(e.debounce, func() {
		e.translate(s, text, false)
	})
}

// translate runs one fire-and-forget translation request. The result is
// published only if the session that requested it is still the live one.
func (e *Engine) translate(s *liveSession, text string, isFinal bool) {
	ctx, cancel := context.WithTimeout(s.ctx, translateTimeout)
	defer cancel()

	out, err := s.translator.Translate(ctx, text, s.cfg.SourceLanguage, s.cfg.TargetLanguage)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		slog.Warn("translation request failed", slog.String("err", err.Error()))
		if isFinal && e.epoch.Load() == s.epoch {
			e.sink.PublishMessage(MessageTranslationFailed, fmt.Sprintf("translation failed: %v", err))
		}
		return
	}

	if out == "" || e.epoch.Load() != s.epoch {
		return
	}

	e.sink.PublishTranslation(asr.TranslationChunk{
		ID:        uuid.NewString(),
		Text:      out,
		IsFinal:   isFinal,
		Provider:  "microsoft_translation",
		Timestamp: time.Now(),
	})
}

// runHint streams a suggested answer for one detected question. Deltas are
// forwarded as they arrive; a Done marker closes the hint.
func (e *Engine) runHint(s *liveSession, question string) {
	id := uuid.NewString()

	ctx, cancel := context.WithTimeout(s.ctx, hintTimeout)
	defer cancel()

	err := s.hintGen.SuggestStream(ctx, e.profileContext(), question, func(delta string) {
		if e.epoch.Load() != s.epoch {
			return
		}
		e.sink.PublishHint(HintDelta{ID: id, Delta: delta})
	})

	if e.epoch.Load() != s.epoch {
		return
	}
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		slog.Warn("hint generation failed", slog.String("err", err.Error()))
		e.sink.PublishMessage(MessageHintFailed, fmt.Sprintf("hint generation failed: %v", err))
		return
	}

	e.sink.PublishHint(HintDelta{ID: id, Done: true})
}
