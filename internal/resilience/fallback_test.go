package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parla-assistant/parla/pkg/provider/stt"
	sttmock "github.com/parla-assistant/parla/pkg/provider/stt/mock"
)

func TestFallbackGroup_PrimaryFirst(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	var used string
	err := fg.Execute(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "primary" {
		t.Errorf("used = %q, want primary", used)
	}
}

func TestFallbackGroup_FailoverOrder(t *testing.T) {
	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")
	fg.AddFallback("c", "c")

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		if v != "c" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if tried[i] != want[i] {
			t.Fatalf("try order = %v, want %v", tried, want)
		}
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	fg := NewFallbackGroup("only", "only", FallbackConfig{})

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("flaky", "flaky", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("stable", "stable")

	// Trip the primary's breaker.
	_ = fg.Execute(func(v string) error {
		if v == "flaky" {
			return errTest
		}
		return nil
	})

	// Primary must now be skipped entirely.
	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tried) != 1 || tried[0] != "stable" {
		t.Errorf("tried = %v, want [stable]", tried)
	}
}

func TestSTTFallback_FailsOverOnError(t *testing.T) {
	broken := &sttmock.Provider{Err: errTest}
	working := &sttmock.Provider{Result: stt.Result{Text: "hello", Language: "en"}}

	f := NewSTTFallback(broken, "broken", FallbackConfig{})
	f.AddFallback("working", working)

	res, err := f.Recognize(context.Background(), []byte{1, 2}, stt.Config{Language: "en"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("text = %q, want hello", res.Text)
	}
	if len(broken.RecognizeCalls) != 1 || len(working.RecognizeCalls) != 1 {
		t.Errorf("call counts: broken=%d working=%d", len(broken.RecognizeCalls), len(working.RecognizeCalls))
	}
}
