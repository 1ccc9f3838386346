package messages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// validationErr carries structured detail like a framework config error.
type validationErr struct {
	violations []FieldViolation
}

func (e *validationErr) Error() string { return "framework definition is invalid" }

func (e *validationErr) ValidationDetail() []FieldViolation { return e.violations }

// collect subscribes and gathers n messages or fails the test.
func collect(t *testing.T, stream <-chan Message, n int) []Message {
	t.Helper()
	out := make([]Message, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case m, ok := <-stream:
			if !ok {
				t.Fatalf("stream closed after %d of %d messages", len(out), n)
			}
			out = append(out, m)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestSequenceIncrements(t *testing.T) {
	seq := NewSequence()

	if got := seq.Current(); got != 0 {
		t.Errorf("expected initial value 0, got %d", got)
	}
	if got := seq.Next(); got != 1 {
		t.Errorf("expected first Next()=1, got %d", got)
	}
	if got := seq.Next(); got != 2 {
		t.Errorf("expected second Next()=2, got %d", got)
	}

	seq.Reset()
	if got := seq.Next(); got != 1 {
		t.Errorf("expected Next()=1 after reset, got %d", got)
	}
}

func TestSequenceConcurrentUniqueness(t *testing.T) {
	seq := NewSequence()
	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				n := seq.Next()
				mu.Lock()
				if seen[n] {
					t.Errorf("duplicate sequence value %d", n)
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if got := seq.Current(); got != workers*perWorker {
		t.Errorf("expected final value %d, got %d", workers*perWorker, got)
	}
}

func TestEmitPartialCarriesNoIndex(t *testing.T) {
	emitter := NewEmitter(NewSequence())
	defer emitter.Close()

	stream, err := emitter.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	emitter.EmitPartial("install", "apt-get install nginx", "reading package lists", "", "web1")
	emitter.EmitStandard("install", "", "done", 0, "web1")

	msgs := collect(t, stream, 2)

	partial := msgs[0]
	if !partial.Partial {
		t.Error("first message should be partial")
	}
	if partial.Index != 0 {
		t.Errorf("partial message must not draw an index, got %d", partial.Index)
	}
	if partial.ExitCode != UnfinishedExitCode {
		t.Errorf("expected exit %d on partial, got %d", UnfinishedExitCode, partial.ExitCode)
	}
	if partial.Input != "apt-get install nginx" {
		t.Errorf("expected input preserved, got %q", partial.Input)
	}

	final := msgs[1]
	if final.Partial {
		t.Error("second message should be final")
	}
	if final.Index != 1 {
		t.Errorf("expected index 1, got %d", final.Index)
	}
	if final.Result == nil || *final.Result != "done" {
		t.Errorf("expected result preserved, got %v", final.Result)
	}
}

func TestEmitErrorForcesExitCode(t *testing.T) {
	emitter := NewEmitter(NewSequence())
	defer emitter.Close()

	stream, err := emitter.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	emitter.EmitError("deploy", errors.New("script on web1 exited with code 3"), "web1")

	msg := collect(t, stream, 1)[0]
	if msg.ExitCode != UnfinishedExitCode {
		t.Errorf("error messages must carry exit %d, got %d", UnfinishedExitCode, msg.ExitCode)
	}
	if msg.Index != 1 {
		t.Errorf("error messages draw an index, got %d", msg.Index)
	}
	if msg.Stderr == "" {
		t.Error("expected error text on stderr")
	}
}

func TestEmitErrorPreservesValidationDetail(t *testing.T) {
	emitter := NewEmitter(NewSequence())
	defer emitter.Close()

	stream, err := emitter.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	cause := &validationErr{violations: []FieldViolation{
		{Field: "Framework.Commands[0].Script", Rule: "required", Detail: "script is required"},
	}}
	emitter.EmitError("load", fmt.Errorf("failed to read framework: %w", cause), "")

	msg := collect(t, stream, 1)[0]
	if len(msg.Validation) != 1 {
		t.Fatalf("expected 1 validation finding, got %d", len(msg.Validation))
	}
	if msg.Validation[0].Rule != "required" {
		t.Errorf("expected rule preserved verbatim, got %q", msg.Validation[0].Rule)
	}
}

func TestSubscribeDeliversInEmissionOrder(t *testing.T) {
	emitter := NewEmitter(NewSequence())
	defer emitter.Close()

	stream, err := emitter.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		emitter.EmitStandard(fmt.Sprintf("step-%d", i), "", "", 0, "host1")
	}

	msgs := collect(t, stream, n)
	for i, m := range msgs {
		if m.Index != int64(i+1) {
			t.Fatalf("message %d: expected index %d, got %d", i, i+1, m.Index)
		}
	}
}

func TestCloseDeliversPendingMessages(t *testing.T) {
	emitter := NewEmitter(NewSequence())

	stream, err := emitter.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		emitter.EmitStandard(fmt.Sprintf("step-%d", i), "", "", 0, "host1")
	}

	if err := emitter.Close(); err != nil {
		t.Fatalf("failed to close emitter: %v", err)
	}

	msgs := collect(t, stream, n)
	for i, m := range msgs {
		if m.Index != int64(i+1) {
			t.Fatalf("message %d: expected index %d, got %d", i, i+1, m.Index)
		}
	}

	select {
	case _, ok := <-stream:
		if ok {
			t.Error("expected no messages beyond the emitted ones")
		}
	case <-time.After(5 * time.Second):
		t.Error("stream did not close after emitter shutdown")
	}
}

func TestConcurrentEmittersProduceUniqueIndices(t *testing.T) {
	emitter := NewEmitter(NewSequence())
	defer emitter.Close()

	stream, err := emitter.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	const hosts = 4
	const perHost = 25

	var wg sync.WaitGroup
	for h := 0; h < hosts; h++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			host := fmt.Sprintf("host%d", h)
			for i := 0; i < perHost; i++ {
				emitter.EmitStandard("step", "", "", 0, host)
			}
		}(h)
	}
	wg.Wait()

	msgs := collect(t, stream, hosts*perHost)
	seen := make(map[int64]bool)
	for _, m := range msgs {
		if m.Index < 1 || m.Index > hosts*perHost {
			t.Errorf("index %d out of range", m.Index)
		}
		if seen[m.Index] {
			t.Errorf("duplicate index %d", m.Index)
		}
		seen[m.Index] = true
	}
}

func TestMessageFinal(t *testing.T) {
	if (Message{Partial: true}).Final() {
		t.Error("partial message must not be final")
	}
	if !(Message{}).Final() {
		t.Error("non-partial message must be final")
	}
}
