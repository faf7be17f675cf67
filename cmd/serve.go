package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/logging"
	"github.com/avanishpal143/meetify/internal/server"
)

var (
	flagServeAddr    string
	flagServeOrigin  string
	flagServeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the call coordinator",
	Long: `Run the coordinator that allocates participant IDs, tracks rooms and
relays session descriptions between participants.

Examples:
  meetify serve
  meetify serve --addr :9000 --origin https://meet.example.com
  meetify serve --negotiation-timeout 45s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			Addr:               flagServeAddr,
			Origin:             flagServeOrigin,
			NegotiationTimeout: flagServeTimeout,
		})
		if err != nil {
			return err
		}

		logging.Init(slog.LevelInfo)
		return server.New(cfg, slog.Default()).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagServeAddr, "addr", "a", "", "Listen address")
	serveCmd.Flags().StringVarP(&flagServeOrigin, "origin", "o", "", "Public origin used in room links")
	serveCmd.Flags().DurationVar(&flagServeTimeout, "negotiation-timeout", 0, "Close links that are not connected within this duration (negative disables)")
}
