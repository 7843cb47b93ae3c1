package attribution

import (
	"errors"
	"fmt"
	"math"

	"conversation-transcriber-service/internal/service/audio"
)

// FbankConfig configures the log-mel filterbank front end.
type FbankConfig struct {
	SampleRate  int
	WindowSize  int // samples (400 = 25ms at 16kHz)
	HopSize     int // samples (160 = 10ms at 16kHz)
	FFTSize     int
	NumMels     int
	LowFreq     float64
	HighFreq    float64
	PreEmphasis float64
}

func DefaultFbankConfig() FbankConfig {
	return FbankConfig{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     40,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

var ErrUnsupportedFormat = errors.New("unsupported audio format for embedding")

// FbankEmbedder summarizes audio as its mean log-mel spectrum, centered
// across bands so that overall loudness cancels out. It is a lightweight
// stand-in for an acoustic speaker model.
type FbankEmbedder struct {
	cfg     FbankConfig
	window  []float64
	melBank [][]float64
}

func NewFbankEmbedder(cfg FbankConfig) *FbankEmbedder {
	return &FbankEmbedder{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
}

func (e *FbankEmbedder) Dim() int { return e.cfg.NumMels }

// Embed returns nil when pcm is shorter than one analysis window.
func (e *FbankEmbedder) Embed(pcm []byte, f audio.Format) ([]float32, error) {
	if f.BitsPerSample != 16 || f.SampleRate != e.cfg.SampleRate || f.Channels < 1 {
		return nil, fmt.Errorf("%w: %+v", ErrUnsupportedFormat, f)
	}
	frames := e.extract(firstChannel(pcm, f.Channels))
	if len(frames) == 0 {
		return nil, nil
	}

	emb := make([]float32, e.cfg.NumMels)
	for m := range emb {
		var sum float64
		for _, fr := range frames {
			sum += fr[m]
		}
		emb[m] = float32(sum / float64(len(frames)))
	}

	var mean float64
	for _, v := range emb {
		mean += float64(v)
	}
	mean /= float64(len(emb))
	for i := range emb {
		emb[i] -= float32(mean)
	}
	return emb, nil
}

func firstChannel(pcm []byte, channels int) []float64 {
	stride := 2 * channels
	out := make([]float64, len(pcm)/stride)
	for i := range out {
		s := int16(uint16(pcm[i*stride]) | uint16(pcm[i*stride+1])<<8)
		out[i] = float64(s) / 32768.0
	}
	return out
}

func (e *FbankEmbedder) extract(samples []float64) [][]float64 {
	cfg := e.cfg
	if len(samples) < cfg.WindowSize {
		return nil
	}

	numFrames := (len(samples)-cfg.WindowSize)/cfg.HopSize + 1
	half := cfg.FFTSize/2 + 1
	re := make([]float64, cfg.FFTSize)
	im := make([]float64, cfg.FFTSize)
	power := make([]float64, half)
	out := make([][]float64, numFrames)

	for t := range out {
		start := t * cfg.HopSize
		for i := range re {
			re[i], im[i] = 0, 0
		}
		for i := 0; i < cfg.WindowSize; i++ {
			s := samples[start+i]
			if i > 0 {
				s -= cfg.PreEmphasis * samples[start+i-1]
			}
			re[i] = s * e.window[i]
		}
		fft(re, im)
		for k := range power {
			power[k] = re[k]*re[k] + im[k]*im[k]
		}

		mel := make([]float64, cfg.NumMels)
		for m, filter := range e.melBank {
			var sum float64
			for k, w := range filter {
				sum += w * power[k]
			}
			mel[m] = math.Log(math.Max(sum, 1e-10))
		}
		out[t] = mel
	}
	return out
}

// fft is an in-place radix-2 transform; len(re) must be a power of two.
func fft(re, im []float64) {
	n := len(re)
	for i, j := 0, 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := -2 * math.Pi / float64(size)
		wr, wi := math.Cos(angle), math.Sin(angle)
		for start := 0; start < n; start += size {
			tr, ti := 1.0, 0.0
			for k := 0; k < half; k++ {
				u, v := start+k, start+k+half
				xr := tr*re[v] - ti*im[v]
				xi := tr*im[v] + ti*re[v]
				re[v], im[v] = re[u]-xr, im[u]-xi
				re[u] += xr
				im[u] += xi
				tr, ti = tr*wr-ti*wi, tr*wi+ti*wr
			}
		}
	}
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	half := fftSize/2 + 1
	lowMel, highMel := hzToMel(lowFreq), hzToMel(highFreq)
	step := (highMel - lowMel) / float64(numMels+1)

	bins := make([]int, numMels+2)
	for i := range bins {
		bin := int(math.Round(melToHz(lowMel+float64(i)*step) * float64(fftSize) / float64(sampleRate)))
		bins[i] = min(bin, half-1)
		if i > 0 && bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := range bank {
		filter := make([]float64, half)
		left, center, right := bins[m], bins[m+1], bins[m+2]
		for k := left; k < center && k < half; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < half; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[m] = filter
	}
	return bank
}
