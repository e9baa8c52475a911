package testlog

import (
	"testing"

	"github.com/arx-os/arxlink/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging once and tags the running test.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}
