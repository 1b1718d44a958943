package provider

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClose_IdempotentOnUnstartedProcess(t *testing.T) {
	p := New("voltiq-tools", nil, time.Second, testLogger())

	for i := 0; i < 3; i++ {
		if err := p.Close(); err != nil {
			t.Fatalf("close %d returned error: %v", i, err)
		}
	}
}

func TestToolsAndInvoke_RequireReady(t *testing.T) {
	p := New("voltiq-tools", nil, time.Second, testLogger())

	if _, err := p.Tools(context.Background()); err == nil {
		t.Error("Tools on an unstarted process must fail")
	}
	if _, err := p.Invoke(context.Background(), "get_high_power_usage_records", nil); err == nil {
		t.Error("Invoke on an unstarted process must fail")
	}
}

func TestCloseAfterFailedStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	p := New("/nonexistent/voltiq-tools", nil, 10*time.Millisecond, testLogger())
	if err := p.Start(ctx); err == nil {
		t.Fatal("expected start failure for a missing command")
	}

	if err := p.Close(); err != nil {
		t.Errorf("close after failed start returned error: %v", err)
	}
}
