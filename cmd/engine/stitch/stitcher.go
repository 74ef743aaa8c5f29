// Package stitch merges a live stream of interim/final chunks into a
// stable, deduplicated running list of display lines. One Stitcher serves
// one channel (transcript or translation); the translation channel adds
// normalized-text echo suppression on top of the shared state machine.
package stitch

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Chunk is one interim or final result entering the stitcher.
type Chunk struct {
	ID        string
	Text      string
	IsFinal   bool
	Provider  string
	Timestamp time.Time
}

// Line is one display line in the merged view. At most one line (the last)
// can be interim at any time.
type Line struct {
	ID        string
	Text      string
	IsFinal   bool
	Provider  string
	Timestamp time.Time
}

// Options are the empirically tuned merge thresholds. They are constants of
// behavior, not physical constraints, so they stay configurable.
type Options struct {
	// MergeGap is the maximum timestamp gap for merging a new final line
	// back into the preceding one.
	MergeGap time.Duration
	// FastMergeGap merges regardless of line shape when the gap is tiny.
	FastMergeGap time.Duration
	// ShortNewLineRunes and ShortPrevLineRunes are the length cutoffs under
	// which a line counts as short for the merge heuristic.
	ShortNewLineRunes  int
	ShortPrevLineRunes int
	// EchoWindow bounds how far back a final translation chunk is matched
	// against previous final lines for duplicate-echo suppression.
	EchoWindow time.Duration
	// MaxLines/TrimTo bound history: once the list exceeds MaxLines it is
	// trimmed to the most recent TrimTo lines.
	MaxLines int
	TrimTo   int
}

// DefaultOptions returns the tuned thresholds.
func DefaultOptions() Options {
	return Options{
		MergeGap:           4 * time.Second,
		FastMergeGap:       1600 * time.Millisecond,
		ShortNewLineRunes:  40,
		ShortPrevLineRunes: 72,
		EchoWindow:         8 * time.Second,
		MaxLines:           400,
		TrimTo:             300,
	}
}

const strongTerminalPunctuation = ".?!。！？；;:："

var connectorWords = []string{
	"and", "or", "but", "so", "because", "which", "that", "then", "with", "to", "of", "in",
}

// Stitcher maintains the merged line list for one channel.
type Stitcher struct {
	opts Options
	// dedupeNormalized enables the translation channel's normalized-text
	// comparison and echo suppression.
	dedupeNormalized bool
	lines            []Line
}

// NewTranscriptStitcher creates a stitcher for the transcript channel.
func NewTranscriptStitcher(opts Options) *Stitcher {
	return &Stitcher{opts: opts}
}

// NewTranslationStitcher creates a stitcher for the translation channel.
func NewTranslationStitcher(opts Options) *Stitcher {
	return &Stitcher{opts: opts, dedupeNormalized: true}
}

// Lines returns the current merged view. The returned slice is shared;
// callers must not mutate it.
func (s *Stitcher) Lines() []Line {
	return s.lines
}

// Apply folds one chunk into the merged view.
func (s *Stitcher) Apply(chunk Chunk) {
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}

	if s.dedupeNormalized && s.applyDeduped(chunk) {
		return
	}

	if chunk.IsFinal {
		s.applyFinal(chunk)
	} else {
		s.applyInterim(chunk)
	}

	s.trim()
}

// applyDeduped handles the translation channel's duplicate suppression.
// It reports true when the chunk was absorbed into an existing line.
func (s *Stitcher) applyDeduped(chunk Chunk) bool {
	if len(s.lines) == 0 {
		return false
	}

	normalized := normalizeText(chunk.Text)

	// Identical to the current last line: refresh it in place, even across
	// an interim→final transition.
	last := &s.lines[len(s.lines)-1]
	if normalizeText(last.Text) == normalized {
		last.Text = chunk.Text
		last.Provider = chunk.Provider
		last.Timestamp = chunk.Timestamp
		if chunk.IsFinal {
			last.IsFinal = true
		}
		return true
	}

	// A final chunk matching a recent final line anywhere in history is a
	// duplicate echo; only refresh that line's timestamp.
	if chunk.IsFinal {
		for i := len(s.lines) - 1; i >= 0; i-- {
			line := &s.lines[i]
			if chunk.Timestamp.Sub(line.Timestamp) > s.opts.EchoWindow {
				break
			}
			if line.IsFinal && normalizeText(line.Text) == normalized {
				line.Timestamp = chunk.Timestamp
				return true
			}
		}
	}

	return false
}

func (s *Stitcher) applyFinal(chunk Chunk) {
	if n := len(s.lines); n > 0 && !s.lines[n-1].IsFinal {
		// Finalize the open interim line in place.
		line := &s.lines[n-1]
		line.ID = chunk.ID
		line.Text = chunk.Text
		line.IsFinal = true
		line.Provider = chunk.Provider
		line.Timestamp = chunk.Timestamp
	} else {
		s.lines = append(s.lines, Line{
			ID:        chunk.ID,
			Text:      chunk.Text,
			IsFinal:   true,
			Provider:  chunk.Provider,
			Timestamp: chunk.Timestamp,
		})
	}

	s.mergeBack()
}

func (s *Stitcher) applyInterim(chunk Chunk) {
	if n := len(s.lines); n > 0 && !s.lines[n-1].IsFinal {
		line := &s.lines[n-1]
		line.Text = chunk.Text
		line.Provider = chunk.Provider
		line.Timestamp = chunk.Timestamp
		return
	}

	s.lines = append(s.lines, Line{
		ID:        chunk.ID,
		Text:      chunk.Text,
		Provider:  chunk.Provider,
		Timestamp: chunk.Timestamp,
	})
}

// mergeBack joins the just-finalized last line into the preceding final line
// when they look like one sentence split across recognition results.
func (s *Stitcher) mergeBack() {
	n := len(s.lines)
	if n < 2 {
		return
	}

	prev := &s.lines[n-2]
	cur := s.lines[n-1]
	if !prev.IsFinal {
		return
	}

	gap := cur.Timestamp.Sub(prev.Timestamp)
	if gap < 0 || gap > s.opts.MergeGap {
		return
	}

	if endsWithTerminalPunctuation(prev.Text) {
		return
	}

	shouldMerge := startsLowercaseOrConnector(cur.Text) ||
		utf8.RuneCountInString(cur.Text) <= s.opts.ShortNewLineRunes ||
		utf8.RuneCountInString(prev.Text) <= s.opts.ShortPrevLineRunes ||
		gap <= s.opts.FastMergeGap
	if !shouldMerge {
		return
	}

	prev.Text = joinLines(prev.Text, cur.Text)
	prev.Timestamp = cur.Timestamp
	s.lines = s.lines[:n-1]
}

func (s *Stitcher) trim() {
	if s.opts.MaxLines > 0 && len(s.lines) > s.opts.MaxLines {
		keep := s.opts.TrimTo
		if keep <= 0 || keep > s.opts.MaxLines {
			keep = s.opts.MaxLines
		}
		s.lines = append([]Line(nil), s.lines[len(s.lines)-keep:]...)
	}
}

func endsWithTerminalPunctuation(text string) bool {
	r, size := utf8.DecodeLastRuneInString(strings.TrimRight(text, " "))
	if size == 0 {
		return false
	}
	return strings.ContainsRune(strongTerminalPunctuation, r)
}

func startsLowercaseOrConnector(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	r, _ := utf8.DecodeRuneInString(trimmed)
	if unicode.IsLower(r) {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, w := range connectorWords {
		if lower == w || strings.HasPrefix(lower, w+" ") {
			return true
		}
	}

	return false
}

// joinLines concatenates with a space only when both boundary characters
// are ASCII, so no spaces get inserted between CJK characters.
func joinLines(a, b string) string {
	lastA, sizeA := utf8.DecodeLastRuneInString(a)
	firstB, sizeB := utf8.DecodeRuneInString(b)
	if sizeA == 1 && sizeB == 1 && lastA < utf8.RuneSelf && firstB < utf8.RuneSelf {
		return a + " " + b
	}
	return a + b
}

// normalizeText collapses whitespace and case for duplicate comparison.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
