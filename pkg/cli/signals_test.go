package cli

import (
	"context"
	"testing"
)

// TestSignalContext tests that the context follows its parent and stop.
func TestSignalContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("Context done before cancellation")
	default:
	}

	cancel()
	<-ctx.Done()

	ctx2, stop2 := SignalContext(context.Background())
	stop2()
	<-ctx2.Done()
}
