package cli

import "errors"

// Config errors.
var (
	// ErrConfigInvalid wraps a config file that cannot be parsed or holds
	// bad values.
	ErrConfigInvalid = errors.New("invalid config")

	// ErrConfigFileNotFound is returned when -c names a missing file.
	ErrConfigFileNotFound = errors.New("config file not found")

	// ErrConfigFileRead is returned when an explicit config file exists
	// but cannot be read.
	ErrConfigFileRead = errors.New("cannot read config file")

	ErrImageEmpty    = errors.New("image path cannot be empty")
	ErrLogFormat     = errors.New("log_format must be console or json")
	ErrAddress       = errors.New("address must be auto, none or an IPv4 address")
	ErrUnknownCmd    = errors.New("unknown command")
	ErrNoFilesystem  = errors.New("no filesystem on image")
	ErrNotConfigured = errors.New("no config file on image")
)
