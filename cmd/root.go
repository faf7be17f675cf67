package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/ui"
	"github.com/avanishpal143/meetify/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meetify",
	Short: "Multi-party video calls over WebRTC",
	Long: `Meetify connects everyone in a room with direct WebRTC links. A small
coordinator hands out participant IDs, keeps the room list and relays
the offer/answer exchange; audio and video flow peer to peer.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(errs.Message(err))
		stop()
		os.Exit(1)
	}
}

func loadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, errs.NewError("load config", err)
	}
	return cfg, nil
}
