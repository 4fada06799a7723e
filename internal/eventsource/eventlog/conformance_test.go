package eventlog_test

import (
	"testing"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog/eventlogtest"
)

func TestMemoryConformance(t *testing.T) {
	eventlogtest.Run(t, func(t *testing.T) eventlog.Log {
		log := eventlog.NewMemory()
		t.Cleanup(func() { _ = log.Close() })
		return log
	})
}
