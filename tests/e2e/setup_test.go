package e2e

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// brokerURL points the interop tests at a real AMQP 0-9-1 broker. The
// tests are skipped unless OTTERWIRE_E2E_URL is set, so the regular suite
// stays hermetic.
var brokerURL string

func TestMain(m *testing.M) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	brokerURL = os.Getenv("OTTERWIRE_E2E_URL")

	os.Exit(m.Run())
}

func requireBroker(t *testing.T) {
	t.Helper()
	if brokerURL == "" {
		t.Skip("OTTERWIRE_E2E_URL not set; skipping broker interop test")
	}
}
