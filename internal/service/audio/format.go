// Package audio turns raw PCM input, pushed by a caller or pulled from a
// reader, into timestamped segments for a transcription session.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Format describes raw PCM audio.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// DefaultFormat is 16 kHz, 16-bit, mono PCM.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, BitsPerSample: 16, Channels: 1}
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("invalid audio format: %+v", f)
	}
	return nil
}

// BlockAlign is the size of one frame (one sample for every channel).
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the play time of n bytes.
func (f Format) Duration(n int64) time.Duration {
	bps := int64(f.BytesPerSecond())
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// BytesIn returns the number of bytes covering d, rounded down to whole frames.
func (f Format) BytesIn(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	if ba := f.BlockAlign(); ba > 0 {
		n -= n % ba
	}
	return n
}

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

const wavFormatPCM = 1

// readWAVHeader consumes a RIFF/WAVE header from r up to the start of the
// data chunk and returns the declared format. Chunks other than "fmt " and
// "data" are skipped.
func readWAVHeader(r *bufio.Reader) (Format, error) {
	riff := make([]byte, 12)
	if _, err := io.ReadFull(r, riff); err != nil {
		return Format{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	var (
		f      Format
		sawFmt bool
		hdr    = make([]byte, 8)
	)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return Format{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, fmt.Errorf("fmt chunk too short: %d", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != wavFormatPCM {
				return Format{}, fmt.Errorf("unsupported wav encoding %d (only PCM)", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			sawFmt = true
		case "data":
			if !sawFmt {
				return Format{}, errors.New("wav data chunk before fmt chunk")
			}
			return f, f.Validate()
		default:
			// Chunks are word aligned.
			if _, err := r.Discard(int(size + size%2)); err != nil {
				return Format{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
			continue
		}
		if size%2 == 1 {
			if _, err := r.Discard(1); err != nil {
				return Format{}, err
			}
		}
	}
}

// EncodeWAV wraps PCM bytes in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(buf[34:], uint16(f.BitsPerSample))
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
