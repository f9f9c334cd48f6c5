package bus_test

import (
	"sync"
	"testing"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
)

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var order []string
	b.Subscribe("child", func(ev bus.Event) {
		order = append(order, ev.Payload.(string))
	})

	// Publish the children from inside a handler so they queue up before the
	// pump reaches them; the pump must then drain by priority.
	b.Subscribe("trigger", func(bus.Event) {
		b.PublishWith("child", "low", bus.Low)
		b.PublishWith("child", "critical", bus.Critical)
		b.PublishWith("child", "medium", bus.Medium)
		b.PublishWith("child", "high", bus.High)
	})
	b.Publish("trigger", nil)

	want := []string{"critical", "high", "medium", "low"}
	if len(order) != len(want) {
		t.Fatalf("delivered %d events, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestFIFOWithinPriorityClass(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var order []int
	b.Subscribe("child", func(ev bus.Event) {
		order = append(order, ev.Payload.(int))
	})
	b.Subscribe("trigger", func(bus.Event) {
		for i := 1; i <= 5; i++ {
			b.PublishWith("child", i, bus.High)
		}
	})
	b.Publish("trigger", nil)

	for i, got := range order {
		if got != i+1 {
			t.Fatalf("order = %v, want 1..5 in publish order", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("delivered %d, want 5", len(order))
	}
}

func TestReentrantPublishIsAppendedNotRecursive(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var order []string
	b.Subscribe("a", func(bus.Event) {
		order = append(order, "a-start")
		b.PublishWith("b", nil, bus.High)
		// If delivery were recursive, "b" would appear before "a-end".
		order = append(order, "a-end")
	})
	b.Subscribe("b", func(bus.Event) {
		order = append(order, "b")
	})
	b.PublishWith("a", nil, bus.High)

	want := []string{"a-start", "a-end", "b"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHandlerPanicGoesToErrorSink(t *testing.T) {
	t.Parallel()

	var sunk []string
	b := bus.New(bus.WithErrorSink(func(ev bus.Event, recovered any) {
		sunk = append(sunk, ev.Name)
	}))

	delivered := false
	b.Subscribe("boom", func(bus.Event) { panic("kaboom") })
	b.Subscribe("boom", func(bus.Event) { delivered = true })
	b.Publish("boom", nil)

	if len(sunk) != 1 || sunk[0] != "boom" {
		t.Errorf("error sink calls = %v, want [boom]", sunk)
	}
	if !delivered {
		t.Error("panic in one handler must not stop delivery to the next")
	}
}

func TestUnsubscribeFromWithinHandler(t *testing.T) {
	t.Parallel()

	b := bus.New()
	count := 0
	var sub bus.Subscription
	sub = b.Subscribe("tick", func(bus.Event) {
		count++
		b.Unsubscribe("tick", sub)
	})
	b.Publish("tick", nil)
	b.Publish("tick", nil)

	if count != 1 {
		t.Errorf("handler ran %d times after self-unsubscribe, want 1", count)
	}
}

func TestUnsubscribeUnknownTokenIsNoop(t *testing.T) {
	t.Parallel()

	b := bus.New()
	b.Unsubscribe("nothing", bus.Subscription(42))
}

func TestHandlersRunInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		b.Subscribe("ev", func(bus.Event) { order = append(order, i) })
	}
	b.Publish("ev", nil)

	for i, got := range order {
		if got != i+1 {
			t.Fatalf("order = %v, want [1 2 3]", order)
		}
	}
}

func TestConcurrentPublishersSerialise(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var mu sync.Mutex
	inHandler := false
	total := 0
	b.Subscribe("ev", func(bus.Event) {
		mu.Lock()
		if inHandler {
			mu.Unlock()
			t.Error("two handlers ran concurrently")
			return
		}
		inHandler = true
		total++
		mu.Unlock()

		mu.Lock()
		inHandler = false
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Publish("ev", nil)
			}
		}()
	}
	wg.Wait()

	// The last Publish may have handed its event to a pump still running on
	// another goroutine; wait for the queue to settle.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := total
		mu.Unlock()
		if n == 400 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d events, want 400", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDefaultPriorityTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want bus.Priority
	}{
		{bus.EventInterruptRequest, bus.Critical},
		{bus.EventKeyboardShortPress, bus.High},
		{bus.EventNetworkStatusChanged, bus.Medium},
		{"made.up.event", bus.Medium},
	}
	for _, tc := range cases {
		if got := bus.DefaultPriority(tc.name); got != tc.want {
			t.Errorf("DefaultPriority(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestModeRequestPriority(t *testing.T) {
	t.Parallel()

	if got := bus.ModeRequestPriority(bus.SourceInterrupt); got != bus.Critical {
		t.Errorf("interrupt source priority = %v, want Critical", got)
	}
	if got := bus.ModeRequestPriority("keyboard"); got != bus.High {
		t.Errorf("keyboard source priority = %v, want High", got)
	}
}
