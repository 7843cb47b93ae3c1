// Command audioclient streams audio to the transcriber and manages voice
// signatures.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	root := &cobra.Command{
		Use:          "audioclient",
		Short:        "Client for the conversation transcriber service",
		SilenceUsage: true,
	}
	root.AddCommand(newStreamCmd(), newEnrollCmd(), newSynthCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
