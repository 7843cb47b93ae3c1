package audio

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"time"
)

// Sine generates a 16-bit tone at hz with amplitude amp (0..1), written to
// every channel.
func Sine(f Format, hz, amp float64, d time.Duration) []byte {
	n := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	out := make([]byte, n*f.BlockAlign())
	for i := 0; i < n; i++ {
		v := int16(amp * 32767 * math.Sin(2*math.Pi*hz*float64(i)/float64(f.SampleRate)))
		for c := 0; c < f.Channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*f.Channels+c)*2:], uint16(v))
		}
	}
	return out
}

// Noise generates reproducible 16-bit white noise.
func Noise(f Format, amp float64, d time.Duration, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	n := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	out := make([]byte, n*f.BlockAlign())
	for i := 0; i < n; i++ {
		v := int16(amp * 32767 * (2*r.Float64() - 1))
		for c := 0; c < f.Channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*f.Channels+c)*2:], uint16(v))
		}
	}
	return out
}
