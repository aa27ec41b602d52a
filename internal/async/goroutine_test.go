package async

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubLogger) Debug(format string, args ...any) {}
func (l *stubLogger) Info(format string, args ...any)  {}
func (l *stubLogger) Warn(format string, args ...any)  {}
func (l *stubLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.messages))
	copy(out, l.messages)
	return out
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &stubLogger{}
	done := make(chan struct{})

	Go(logger, "test", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for goroutine")
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		for _, msg := range logger.snapshot() {
			if strings.Contains(msg, "goroutine panic [test]") {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("panic was not logged, got %v", logger.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGoRunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "", func() { close(done) })

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for goroutine")
	}
}
