package server

import (
	"io"
	"log/slog"

	"github.com/hrygo/pandemonium/internal/profile"
	"github.com/hrygo/pandemonium/server/internal/observability"
)

// NewLogger builds the process logger from the profile's log settings.
func NewLogger(p *profile.Profile, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	return observability.NewLogger(observability.LogConfig{
		Level:  p.LogLevel,
		Format: p.LogFormat,
		File:   p.LogFile,
	}, stderr)
}
