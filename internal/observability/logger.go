package observability

import (
	"github.com/arx-os/arxlink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures process logging and tags the global logger with app
// and node.
func InitLogger(app string, node uint16) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Uint16("node", node).Logger()
	log.Logger = logger
	return logger
}
