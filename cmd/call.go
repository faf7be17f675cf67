package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/coordinator"
	"github.com/avanishpal143/meetify/internal/endpoint"
	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/transport"
	"github.com/avanishpal143/meetify/internal/ui"
)

const connectTimeout = 15 * time.Second

var (
	flagCallName     string
	flagCallServer   string
	flagCallNoCamera bool
	flagCallNoScreen bool
	flagCallSTUN     string
	flagCallTURN     string
	flagCallTURNUser string
	flagCallTURNPass string
	flagCallRelay    bool
)

var callCmd = &cobra.Command{
	Use:     "call [room-id|link]",
	Aliases: []string{"c"},
	Short:   "Start a call or join an existing one",
	Long: `Start a new call room, or join one by its ID or shareable link.

Examples:
  meetify call
  meetify call 6ba7b810-9dad-11d1-80b4-00c04fd430c8
  meetify call "http://localhost:8080?room=6ba7b810-9dad-11d1-80b4-00c04fd430c8"
  meetify call --name Alice --no-camera`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) == 1 {
			roomID, err := coordinator.ParseReference(args[0])
			if err != nil {
				return err
			}
			ref = roomID
		}
		return startCall(cmd.Context(), ref)
	},
}

func startCall(ctx context.Context, roomID string) error {
	cfg, err := loadConfig(config.Options{
		ServerURL:  flagCallServer,
		STUNServer: flagCallSTUN,
		TURNServer: flagCallTURN,
		TURNUser:   flagCallTURNUser,
		TURNPass:   flagCallTURNPass,
		ForceRelay: flagCallRelay,
	})
	if err != nil {
		return err
	}

	ep := endpoint.New(endpoint.Options{
		Config: cfg,
		Name:   flagCallName,
		Media: transport.MediaOptions{
			NoCamera: flagCallNoCamera,
			NoScreen: flagCallNoScreen,
		},
		Logger: slog.Default(),
	})
	defer ep.Close()

	fmt.Println()
	stopSpinner := ui.RunConnectionSpinner(ui.IconConnect + " Connecting to " + cfg.ServerURL + "...")
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	welcome, err := ep.Connect(connectCtx)
	cancel()
	stopSpinner()
	if err != nil {
		return errs.NewError("connect to server", err)
	}
	ui.PrintSuccessf("Connected as %s", welcome.ID)

	if welcome.Media.ReceiveOnly {
		ui.PrintWarning("No camera available, joining receive-only")
	}

	if roomID == "" {
		ep.CreateRoom()
	} else {
		ep.JoinRoom(roomID)
	}

	return ui.RunCall(ep, welcome.Media)
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&flagCallName, "name", "n", "", "Display name shown to other participants")
	callCmd.Flags().StringVar(&flagCallServer, "server", "", "Coordinator WebSocket URL")
	callCmd.Flags().BoolVar(&flagCallNoCamera, "no-camera", false, "Join without sending audio or video")
	callCmd.Flags().BoolVar(&flagCallNoScreen, "no-screen", false, "Refuse screen sharing requests")
	callCmd.Flags().StringVarP(&flagCallSTUN, "stun", "s", "", "Custom STUN server")
	callCmd.Flags().StringVarP(&flagCallTURN, "turn", "t", "", "Custom TURN server")
	callCmd.Flags().StringVar(&flagCallTURNUser, "turn-user", "", "TURN username")
	callCmd.Flags().StringVar(&flagCallTURNPass, "turn-pass", "", "TURN password")
	callCmd.Flags().BoolVarP(&flagCallRelay, "relay", "r", false, "Force relay mode")
}
