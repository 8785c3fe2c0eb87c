package version

// Version is the chatrelay build version, overridable via
// -ldflags "-X .../internal/version.Version=v1.2.3".
var Version = "0.1.0"
