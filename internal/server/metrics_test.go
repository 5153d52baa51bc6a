package server

import (
	"context"
	"testing"
)

func TestMetricsServerSetup(t *testing.T) {
	m := NewMetricsServer(9321, "/metrics")
	if err := m.Setup(); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	if m.server == nil {
		t.Fatal("Setup() left the server unconfigured")
	}
}

func TestMetricsServerShutdownBeforeStart(t *testing.T) {
	m := NewMetricsServer(9321, "/metrics")
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before Start() failed: %v", err)
	}
}
