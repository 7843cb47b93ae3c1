package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Per-chunk properties accepted by PushStream.SetProperty.
const (
	PropertyBufferTimestamp = "DataBufferTimeStamp"
	PropertySpeakerID       = "DataChunk_SpeakerId"
)

var (
	ErrNotAttached     = errors.New("audio stream is not attached to a session")
	ErrClosed          = errors.New("audio stream is closed")
	ErrUnknownProperty = errors.New("unknown audio property")
)

// Segment is an immutable chunk of audio positioned on the stream timeline.
type Segment struct {
	Data     []byte
	Offset   time.Duration
	Duration time.Duration
	Sequence uint64

	// Timestamp is an opaque caller-provided buffer timestamp.
	Timestamp string
	// SpeakerHint names the participant the caller says is speaking.
	SpeakerHint string
}

// End is the stream position right after the segment.
func (s Segment) End() time.Duration { return s.Offset + s.Duration }

// Sink receives segments from a stream.
type Sink interface {
	Feed(Segment) error
	EndOfStream()
}

// Segmenter positions chunks on the stream timeline. Offsets come from the
// number of bytes committed so far, so they never decrease.
type Segmenter struct {
	format Format
	bytes  int64
	seq    uint64
}

func NewSegmenter(f Format) *Segmenter {
	return &Segmenter{format: f}
}

// Next builds the segment that would follow the committed ones. The data is copied.
func (s *Segmenter) Next(data []byte) Segment {
	return Segment{
		Data:     append([]byte(nil), data...),
		Offset:   s.format.Duration(s.bytes),
		Duration: s.format.Duration(int64(len(data))),
		Sequence: s.seq + 1,
	}
}

// Commit advances the timeline past seg.
func (s *Segmenter) Commit(seg Segment) {
	s.bytes += int64(len(seg.Data))
	s.seq = seg.Sequence
}

// Position is the offset of the next segment.
func (s *Segmenter) Position() time.Duration {
	return s.format.Duration(s.bytes)
}

// PushStream is written to by the caller. Writes are forwarded to the
// attached sink; a rejected write does not advance the timeline, so the
// caller may retry it.
type PushStream struct {
	mu      sync.Mutex
	seg     *Segmenter
	format  Format
	sink    Sink
	closed  bool
	pending struct {
		timestamp string
		speaker   string
	}
}

func NewPushStream(f Format) *PushStream {
	return &PushStream{seg: NewSegmenter(f), format: f}
}

func (s *PushStream) Format() Format { return s.format }

// Attach connects the stream to a sink, replacing any previous one.
func (s *PushStream) Attach(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sink = sink
	return nil
}

// Detach disconnects the current sink.
func (s *PushStream) Detach() {
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
}

// SetProperty attaches a per-chunk property to the next Write.
func (s *PushStream) SetProperty(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch name {
	case PropertyBufferTimestamp:
		s.pending.timestamp = value
	case PropertySpeakerID:
		s.pending.speaker = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	return nil
}

// Write forwards p as one segment. Empty writes are ignored.
func (s *PushStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.sink == nil {
		return 0, ErrNotAttached
	}
	if len(p) == 0 {
		return 0, nil
	}

	seg := s.seg.Next(p)
	seg.Timestamp = s.pending.timestamp
	seg.SpeakerHint = s.pending.speaker
	if err := s.sink.Feed(seg); err != nil {
		return 0, err
	}
	s.seg.Commit(seg)
	s.pending.timestamp, s.pending.speaker = "", ""
	return len(p), nil
}

// Close signals end of stream to the attached sink. It is idempotent.
func (s *PushStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.EndOfStream()
	}
	return nil
}

// PullStream reads fixed-size chunks from a reader until EOF. It cannot
// rewind. A WAV header at the start of the reader is detected and its
// format replaces the configured one.
type PullStream struct {
	r      *bufio.Reader
	seg    *Segmenter
	format Format
	chunk  int
	buf    []byte
}

// NewPullStream wraps r. chunk is the play time of each segment.
func NewPullStream(r io.Reader, f Format, chunk time.Duration) (*PullStream, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(4)
	if err == nil && string(magic) == "RIFF" {
		f, err = readWAVHeader(br)
		if err != nil {
			return nil, err
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	n := f.BytesIn(chunk)
	if n <= 0 {
		n = f.BlockAlign()
	}
	return &PullStream{
		r:      br,
		seg:    NewSegmenter(f),
		format: f,
		chunk:  n,
		buf:    make([]byte, n),
	}, nil
}

func (s *PullStream) Format() Format { return s.format }

// Next returns the next segment, or io.EOF once the reader is exhausted.
// The final segment may be shorter than the chunk size.
func (s *PullStream) Next() (Segment, error) {
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == io.EOF:
		return Segment{}, io.EOF
	case err == io.ErrUnexpectedEOF:
	case err != nil:
		return Segment{}, err
	}

	seg := s.seg.Next(s.buf[:n])
	s.seg.Commit(seg)
	return seg, nil
}
