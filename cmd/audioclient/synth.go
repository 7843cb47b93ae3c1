package main

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"conversation-transcriber-service/internal/service/audio"
)

// newSynthCmd writes test audio: a tone per speaker, one after another.
func newSynthCmd() *cobra.Command {
	var (
		out      string
		tones    []float64
		duration time.Duration
		noise    float64
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a synthetic WAV file of consecutive tones",
		RunE: func(*cobra.Command, []string) error {
			f := audio.DefaultFormat()
			var pcm []byte
			for i, hz := range tones {
				pcm = append(pcm, audio.Sine(f, hz, 0.5, duration)...)
				if noise > 0 {
					pcm = append(pcm, audio.Noise(f, noise, duration/4, uint64(i+1))...)
				}
			}
			if err := os.WriteFile(out, audio.EncodeWAV(pcm, f), 0o644); err != nil {
				return err
			}
			log.Info().Str("file", out).Dur("length", f.Duration(int64(len(pcm)))).Msg("Synthetic audio written")
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&out, "out", "o", "synthetic.wav", "output WAV file")
	fl.Float64SliceVar(&tones, "tone", []float64{220, 440}, "tone frequencies in Hz, one segment each")
	fl.DurationVar(&duration, "duration", 2*time.Second, "length of each tone")
	fl.Float64Var(&noise, "noise", 0, "amplitude of a noise gap after each tone (0 disables)")
	return cmd
}
