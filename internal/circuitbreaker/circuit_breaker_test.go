package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var errDownstream = errors.New("downstream failure")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func failing() error { return errDownstream }
func succeeding() error { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, Timeout: time.Hour}, testLogger())

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failing); !errors.Is(err, errDownstream) {
			t.Fatalf("attempt %d: expected downstream error, got %v", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if called {
		t.Error("Function must not run while the breaker is open")
	}

	m := cb.Metrics()
	if m.TotalRequests != 3 || m.TotalFailures != 3 || m.TotalRejected != 1 {
		t.Errorf("Unexpected metrics: %+v", m)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, Timeout: time.Hour}, testLogger())

	cb.Execute(failing)
	cb.Execute(succeeding)
	cb.Execute(failing)

	if cb.State() != StateClosed {
		t.Errorf("Non-consecutive failures must not open the breaker, state=%s", cb.State())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, Timeout: 20 * time.Millisecond, MaxRequests: 1}, testLogger())

	cb.Execute(failing)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(succeeding); err != nil {
		t.Fatalf("Expected half-open trial request to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful trial request, got %s", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, Timeout: 20 * time.Millisecond}, testLogger())

	cb.Execute(failing)
	time.Sleep(30 * time.Millisecond)
	cb.Execute(failing)

	if cb.State() != StateOpen {
		t.Errorf("Expected open after failed trial request, got %s", cb.State())
	}
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, Timeout: 10 * time.Millisecond, MaxRequests: 1}, testLogger())
	cb.Execute(failing)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	if err := cb.Execute(succeeding); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected second half-open request to be rejected, got %v", err)
	}
	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after trial request succeeded, got %s", cb.State())
	}
}

func TestIsFailureClassifier(t *testing.T) {
	errClient := errors.New("bad request")
	cb := New(Config{
		Name:        "test",
		MaxFailures: 1,
		Timeout:     time.Hour,
		IsFailure:   func(err error) bool { return !errors.Is(err, errClient) },
	}, testLogger())

	if err := cb.Execute(func() error { return errClient }); !errors.Is(err, errClient) {
		t.Fatalf("Expected the client error to be returned, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Client errors must not open the breaker")
	}
}

func TestCancelledContextIsNotAFailure(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, Timeout: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Caller cancellation must not open the breaker")
	}
}

func TestStateChangeCallback(t *testing.T) {
	changes := make(chan State, 4)
	cb := New(Config{
		Name:          "test",
		MaxFailures:   1,
		Timeout:       time.Hour,
		OnStateChange: func(name string, from, to State) { changes <- to },
	}, testLogger())

	cb.Execute(failing)

	select {
	case to := <-changes:
		if to != StateOpen {
			t.Errorf("Expected transition to open, got %s", to)
		}
	case <-time.After(time.Second):
		t.Fatal("State change callback was not invoked")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.State())
	}
}

func TestManager(t *testing.T) {
	manager := NewManager(Config{MaxFailures: 2, Timeout: time.Second}, testLogger())

	a := manager.For("pizza-api")
	if a != manager.For("pizza-api") {
		t.Error("Expected same circuit breaker instance")
	}
	if a == manager.For("cdp") {
		t.Error("Expected different circuit breaker instances")
	}
	if manager.Get("missing") != nil {
		t.Error("Expected nil for non-existent circuit breaker")
	}

	a.Execute(failing)
	a.Execute(failing)
	if got := manager.AllMetrics()["pizza-api"].State; got != "open" {
		t.Errorf("Expected open in metrics, got %s", got)
	}

	if !manager.Reset("pizza-api") || a.State() != StateClosed {
		t.Error("Expected reset to close the breaker")
	}
	if manager.Reset("missing") {
		t.Error("Expected reset of unknown breaker to report false")
	}
}
