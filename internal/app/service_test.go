package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeService struct {
	name     string
	startErr error
	block    bool
	stopped  atomic.Int32
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return nil
	}
	return s.startErr
}

func (s *fakeService) Stop(context.Context) error {
	s.stopped.Add(1)
	return nil
}

func TestRunnerStopsAllServicesWhenOneFails(t *testing.T) {
	failing := &fakeService{name: "worker", startErr: errors.New("redis unreachable")}
	blocking := &fakeService{name: "http", block: true}

	err := NewRunner(blocking, failing).Run(context.Background(), time.Second, nil)
	if err == nil || err.Error() != "redis unreachable" {
		t.Fatalf("expected start error, got %v", err)
	}
	if blocking.stopped.Load() != 1 || failing.stopped.Load() != 1 {
		t.Fatalf("expected every service stopped once, got http=%d worker=%d", blocking.stopped.Load(), failing.stopped.Load())
	}
}

func TestRunnerReturnsNilOnCancel(t *testing.T) {
	svc := &fakeService{name: "http", block: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewRunner(svc).Run(ctx, time.Second, nil)
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
	if svc.stopped.Load() != 1 {
		t.Fatalf("expected service stopped once, got %d", svc.stopped.Load())
	}
}

func TestRunnerWithoutServices(t *testing.T) {
	if err := NewRunner().Run(context.Background(), time.Second, nil); err == nil {
		t.Fatalf("expected error for empty runner")
	}
}

func TestNormalizeOptions(t *testing.T) {
	opts := normalizeOptions(Options{Mode: " HTTP "})
	if opts.Mode != ModeAPI {
		t.Fatalf("expected http alias to map to api, got %q", opts.Mode)
	}
	if opts.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", opts.ShutdownTimeout)
	}
	if opts.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if normalizeOptions(Options{}).Mode != ModeAll {
		t.Fatalf("expected default mode all")
	}
}
