package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/room"
	"github.com/avanishpal143/meetify/internal/ui"
)

var flagRoomsServer string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms open on a coordinator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{ServerURL: flagRoomsServer})
		if err != nil {
			return err
		}

		rooms, err := fetchRooms(cmd.Context(), cfg.APIURL("/api/rooms"))
		if err != nil {
			return errs.NewError("list rooms", err)
		}
		if len(rooms) == 0 {
			ui.PrintInfo("No open rooms")
			return nil
		}
		ui.RenderRooms(os.Stdout, rooms, time.Now())
		return nil
	},
}

func fetchRooms(ctx context.Context, endpoint string) ([]room.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body struct {
		Rooms []room.Summary `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Rooms, nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().StringVar(&flagRoomsServer, "server", "", "Coordinator WebSocket URL")
}
