package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avanishpal143/meetify/internal/errs"
)

func TestFetchRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rooms":[{"id":"r1","members":2,"created_at":"2026-01-02T15:04:05Z"}]}`))
	}))
	defer srv.Close()

	rooms, err := fetchRooms(context.Background(), srv.URL+"/api/rooms")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].ID)
	assert.Equal(t, 2, rooms[0].Members)
}

func TestFetchRoomsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fetchRooms(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "503")
}

func TestCallRejectsBadReference(t *testing.T) {
	err := callCmd.RunE(callCmd, []string{"not-a-room"})
	assert.ErrorIs(t, err, errs.ErrInvalidRoomReference)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "meetify dev\n", out.String())
}
