package version

// Version is the current version of Meetify.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/avanishpal143/meetify/internal/version.Version=v1.0.0'"
var Version = "dev"
