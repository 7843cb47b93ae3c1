package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"conversation-transcriber-service/internal/enrollment"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
)

func newEnrollCmd() *cobra.Command {
	var (
		service string
		file    string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Create a voice signature from a voice sample",
		Long: "Create a voice signature from a WAV voice sample. With --service the sample is\n" +
			"sent to the transcriber's enrollment endpoint; otherwise it is derived locally.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sample, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			var res []byte
			if service != "" {
				res, err = enrollRemote(cmd.Context(), service, sample)
			} else {
				res, err = enrollLocal(cmd.Context(), sample)
			}
			if err != nil {
				return err
			}

			if out == "" {
				_, err = os.Stdout.Write(append(res, '\n'))
				return err
			}
			log.Info().Str("file", out).Msg("Voice signature written")
			return os.WriteFile(out, res, 0o644)
		},
	}
	f := cmd.Flags()
	f.StringVar(&service, "service", "", "transcriber HTTP address, e.g. http://localhost:8080")
	f.StringVarP(&file, "file", "f", "", "voice sample (WAV)")
	f.StringVarP(&out, "out", "o", "", "write the signature JSON here instead of stdout")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// enrollLocal returns the signature document only, ready for --signature.
func enrollLocal(ctx context.Context, sample []byte) ([]byte, error) {
	e := enrollment.NewLocal(attribution.NewFbankEmbedder(attribution.DefaultFbankConfig()), audio.DefaultFormat(), nil)
	res, err := e.Enroll(ctx, sample)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res.Signature)
}

func enrollRemote(ctx context.Context, service string, sample []byte) ([]byte, error) {
	client := retryablehttp.NewClient()
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(service, "/")+"/v1/voice-signatures", bytes.NewReader(sample))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrollment failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res struct {
		Signature json.RawMessage `json:"Signature"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode enrollment response: %w", err)
	}
	return res.Signature, nil
}
