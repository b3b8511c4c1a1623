// Package chunker splits page text into bounded, overlapping chunks.
//
// Text is split with a cascade of separators, coarsest first. Units produced
// at one level are packed greedily into a buffer; a unit that is larger than
// the chunk size on its own is split again at the next finer level. The empty
// separator ends the cascade: a unit that reaches it is emitted whole, so an
// unsplittable token longer than the chunk size becomes a single oversized
// chunk instead of being cut or dropped.
//
// Lengths are measured in runes.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidChunkSize is returned when the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap is returned when the overlap is negative or not
	// smaller than the chunk size.
	ErrInvalidOverlap = errors.New("overlap must be non-negative and smaller than chunk size")
)

// DefaultSeparators goes from paragraph breaks down to single spaces.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Segment is one produced chunk together with the number of leading runes
// that were carried over from the previous segment.
type Segment struct {
	Text    string
	Overlap int
}

// Splitter splits text into chunks of at most Size runes.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithSeparators replaces the separator cascade.
func WithSeparators(separators ...string) Option {
	return func(s *Splitter) {
		if len(separators) > 0 {
			s.separators = append([]string(nil), separators...)
		}
	}
}

// New creates a Splitter. chunkSize must be positive and overlap must be in
// [0, chunkSize).
func New(chunkSize, overlap int, opts ...Option) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d, chunk size %d", ErrInvalidOverlap, overlap, chunkSize)
	}

	s := &Splitter{
		size:       chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Split is a convenience wrapper around New and Splitter.Split.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	s, err := New(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

// Size returns the configured chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunk texts for text. Empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	segs := s.Segments(text)
	if len(segs) == 0 {
		return nil
	}
	out := make([]string, len(segs))
	for i, seg := range segs {
		out[i] = seg.Text
	}
	return out
}

// Segments is Split with overlap bookkeeping.
func (s *Splitter) Segments(text string) []Segment {
	if text == "" {
		return nil
	}
	w := &walker{s: s}
	w.split(text, 0, "")
	w.flush()
	return w.out
}

type walker struct {
	s      *Splitter
	buf    []rune
	seeded int // runes at the head of buf carried over from the last segment
	out    []Segment
}

func (w *walker) split(text string, level int, lead string) {
	sep := w.s.separators[level]
	units := []string{text}
	if sep != "" {
		units = strings.Split(text, sep)
	}

	join := lead
	for _, u := range units {
		if u == "" {
			continue
		}
		w.add(u, level, join)
		join = sep
	}
}

func (w *walker) add(unit string, level int, join string) {
	n := utf8.RuneCountInString(unit)

	if n > w.s.size {
		next := level + 1
		if w.s.separators[level] != "" && next < len(w.s.separators) {
			w.split(unit, next, join)
			return
		}
		w.flush()
		r := []rune(unit)
		w.out = append(w.out, Segment{Text: unit})
		w.carry(r)
		return
	}

	if !w.fits(join, n) {
		w.flush()
		if !w.fits(join, n) {
			keep := w.s.size - n - utf8.RuneCountInString(join)
			if keep <= 0 {
				w.buf = nil
			} else {
				w.buf = w.buf[len(w.buf)-keep:]
			}
			w.seeded = len(w.buf)
		}
	}

	if len(w.buf) > 0 {
		w.buf = append(w.buf, []rune(join)...)
	}
	w.buf = append(w.buf, []rune(unit)...)
}

func (w *walker) fits(join string, n int) bool {
	if len(w.buf) == 0 {
		return n <= w.s.size
	}
	return len(w.buf)+utf8.RuneCountInString(join)+n <= w.s.size
}

// flush emits the buffer if it holds anything beyond the carried-over seed.
func (w *walker) flush() {
	if len(w.buf) <= w.seeded {
		return
	}
	w.out = append(w.out, Segment{Text: string(w.buf), Overlap: w.seeded})
	w.carry(w.buf)
}

func (w *walker) carry(prev []rune) {
	k := min(w.s.overlap, len(prev))
	w.buf = append([]rune(nil), prev[len(prev)-k:]...)
	w.seeded = k
}
