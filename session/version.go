package session

// Version of the program. Set when building: go build -ldflags "-X github.com/opifices/opit/session.Version=v1.0.0"
var Version = "0.0.0" // zero means development version
