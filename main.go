package main

import (
	"log/slog"

	"github.com/avanishpal143/meetify/cmd"
	"github.com/avanishpal143/meetify/internal/logging"
)

func main() {
	logging.Init(slog.LevelError)
	cmd.Execute()
}
