package trackproc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arkflow/trackproc"
	"github.com/arkflow/trackproc/executor"
	"github.com/arkflow/trackproc/source"
	"github.com/arkflow/trackproc/store"
)

func TestProcessor_StartProcessesAppendedEvents(t *testing.T) {
	tokenStore := store.NewMemory()
	src := source.NewMemory()

	var mu sync.Mutex
	var seen []any
	processor := trackproc.BatchProcessorFunc(func(events []trackproc.EventMessage, _ trackproc.UnitOfWork, _ trackproc.Segment) error {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			seen = append(seen, ev.Payload())
		}
		return nil
	})

	src.Append("order-1", "a")
	src.Append("order-2", "b")

	coordExec := executor.NewFixed(1)
	workerExec := executor.NewDynamic()
	defer coordExec.Close()
	defer workerExec.Close()

	p, err := trackproc.New(context.Background(),
		trackproc.WithName("orders-test"),
		trackproc.WithInitialSegmentCount(1),
		trackproc.WithInitialToken(func(context.Context, trackproc.MessageSource) (trackproc.Token, error) {
			return trackproc.GlobalSequenceToken(0), nil
		}),
		trackproc.WithCoordinatorExecutor(coordExec),
		trackproc.WithWorkerExecutor(workerExec),
		trackproc.WithTokenStore(tokenStore),
		trackproc.WithSource(src),
		trackproc.WithValidator(trackproc.EventValidatorFunc(func(trackproc.EventMessage, trackproc.Segment) bool { return true })),
		trackproc.WithBatchProcessor(processor),
		trackproc.WithIdleReadDelay(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	p.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := p.Stop(ctx); err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("processed %d events; want 2 (seen=%v)", len(seen), seen)
	}
}

func TestProcessor_StopIsIdempotent(t *testing.T) {
	tokenStore := store.NewMemory()
	src := source.NewMemory()
	coordExec := executor.NewFixed(1)
	workerExec := executor.NewDynamic()
	defer coordExec.Close()
	defer workerExec.Close()

	p, err := trackproc.New(context.Background(),
		trackproc.WithName("idempotent-stop"),
		trackproc.WithInitialSegmentCount(1),
		trackproc.WithInitialToken(func(context.Context, trackproc.MessageSource) (trackproc.Token, error) {
			return trackproc.GlobalSequenceToken(0), nil
		}),
		trackproc.WithCoordinatorExecutor(coordExec),
		trackproc.WithWorkerExecutor(workerExec),
		trackproc.WithTokenStore(tokenStore),
		trackproc.WithSource(src),
		trackproc.WithValidator(trackproc.EventValidatorFunc(func(trackproc.EventMessage, trackproc.Segment) bool { return true })),
		trackproc.WithBatchProcessor(trackproc.BatchProcessorFunc(func([]trackproc.EventMessage, trackproc.UnitOfWork, trackproc.Segment) error { return nil })),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err1 := p.Stop(ctx)
	err2 := p.Stop(ctx)
	if err1 != err2 {
		t.Fatalf("expected repeated Stop calls to return the same result, got %v and %v", err1, err2)
	}
	if p.IsRunning() {
		t.Fatal("expected IsRunning() false after Stop")
	}
}
