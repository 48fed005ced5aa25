package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reedfamily/reedlink/internal/event"
)

func joined(name string) event.PlayerJoined {
	return event.PlayerJoined{At: time.Now(), Name: name, Address: "127.0.0.1:50000"}
}

func TestPublishOrdersByPriorityThenRegistration(t *testing.T) {
	b := New()
	var calls []string
	record := func(label string) Handler {
		return func(ctx context.Context, e event.Event) error {
			calls = append(calls, label)
			return nil
		}
	}

	b.Subscribe(event.KindPlayerJoined, record("low"), WithPriority(1))
	b.Subscribe(event.KindPlayerJoined, record("high-a"), WithPriority(10))
	b.Subscribe(event.KindPlayerJoined, record("mid"), WithPriority(5))
	b.Subscribe(event.KindPlayerJoined, record("high-b"), WithPriority(10))
	b.Subscribe(event.KindPlayerJoined, record("default"))

	b.Publish(context.Background(), joined("Steve"))

	want := []string{"high-a", "high-b", "mid", "low", "default"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestPublishPlayerJoinedNameBeforeAddress(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
		order = append(order, "address:"+e.(event.PlayerJoined).Address)
		return nil
	}, WithPriority(1))
	b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
		order = append(order, "name:"+e.(event.PlayerJoined).Name)
		return nil
	}, WithPriority(5))

	b.Publish(context.Background(), joined("Alex"))

	if len(order) != 2 || order[0] != "name:Alex" || order[1] != "address:127.0.0.1:50000" {
		t.Errorf("order = %v", order)
	}
}

func TestPublishOnlyMatchingKind(t *testing.T) {
	b := New()
	var joins, chats int
	b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error { joins++; return nil })
	b.Subscribe(event.KindPlayerChat, func(ctx context.Context, e event.Event) error { chats++; return nil })

	b.Publish(context.Background(), joined("Steve"))
	b.Publish(context.Background(), joined("Alex"))

	if joins != 2 || chats != 0 {
		t.Errorf("joins = %d, chats = %d", joins, chats)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var n int
	sub := b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error { n++; return nil })

	b.Publish(context.Background(), joined("Steve"))
	b.Unsubscribe(sub)
	b.Publish(context.Background(), joined("Steve"))

	if n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}

	// Removing twice, or removing nil, is a no-op.
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
	if got := b.Stats().Subscriptions; got != 0 {
		t.Errorf("Subscriptions = %d, want 0", got)
	}
}

func TestFailingHandlersAreIsolated(t *testing.T) {
	b := New()
	var reached []string
	b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
		reached = append(reached, "err")
		return errors.New("boom")
	}, WithPriority(3))
	b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
		reached = append(reached, "panic")
		panic("kaboom")
	}, WithPriority(2))
	b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
		reached = append(reached, "ok")
		return nil
	}, WithPriority(1))

	b.Publish(context.Background(), joined("Steve"))

	if len(reached) != 3 || reached[2] != "ok" {
		t.Fatalf("reached = %v", reached)
	}
	st := b.Stats()
	if st.HandlerErrors != 2 || st.HandlerPanics != 1 || st.Delivered != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	b.Publish(context.Background(), joined("Steve"))
	b.Publish(context.Background(), nil)
	if st := b.Stats(); st.Published != 1 || st.Delivered != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSubscribeDuringDispatchDoesNotAffectInFlight(t *testing.T) {
	b := New()
	var late int
	var lateSub *Subscription
	var second int

	var first *Subscription
	first = b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
		// Mutate the table mid-dispatch.
		b.Unsubscribe(first)
		if lateSub == nil {
			lateSub = b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
				late++
				return nil
			}, WithPriority(100))
		}
		return nil
	}, WithPriority(10))
	b.Subscribe(event.KindPlayerJoined, func(ctx context.Context, e event.Event) error {
		second++
		return nil
	}, WithPriority(1))

	b.Publish(context.Background(), joined("Steve"))
	if second != 1 || late != 0 {
		t.Fatalf("first publish: second = %d, late = %d", second, late)
	}

	b.Publish(context.Background(), joined("Steve"))
	if second != 2 || late != 1 {
		t.Errorf("second publish: second = %d, late = %d", second, late)
	}
}

func TestSubscribeAsyncAwaitsCompletion(t *testing.T) {
	b := New()
	var order []string
	b.SubscribeAsync(event.KindPlayerChat, func(ctx context.Context, e event.Event) <-chan error {
		done := make(chan error, 1)
		go func() {
			time.Sleep(20 * time.Millisecond)
			order = append(order, "async")
			done <- nil
		}()
		return done
	}, WithPriority(2))
	b.Subscribe(event.KindPlayerChat, func(ctx context.Context, e event.Event) error {
		order = append(order, "sync")
		return nil
	}, WithPriority(1))

	b.Publish(context.Background(), event.PlayerChat{At: time.Now(), Name: "Steve", Message: "hi"})

	if len(order) != 2 || order[0] != "async" || order[1] != "sync" {
		t.Errorf("order = %v", order)
	}
}

func TestWithFilter(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(event.KindCustom, func(ctx context.Context, e event.Event) error {
		got = append(got, e.(event.Custom).Name)
		return nil
	}, WithFilter(func(e event.Event) bool { return e.(event.Custom).Name == "vote" }))

	b.Publish(context.Background(), event.Custom{At: time.Now(), Name: "vote"})
	b.Publish(context.Background(), event.Custom{At: time.Now(), Name: "other"})

	if len(got) != 1 || got[0] != "vote" {
		t.Errorf("got = %v", got)
	}
}

func TestClearAllSubscriptions(t *testing.T) {
	b := New()
	var n int
	for i := 0; i < 3; i++ {
		b.Subscribe(event.KindServerLog, func(ctx context.Context, e event.Event) error { n++; return nil })
	}
	b.ClearAllSubscriptions()
	b.Publish(context.Background(), event.ServerLog{At: time.Now(), Message: "x"})
	if n != 0 || b.Subscribers(event.KindServerLog) != 0 {
		t.Errorf("n = %d, subscribers = %d", n, b.Subscribers(event.KindServerLog))
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New()
	var total atomic.Int64
	b.Subscribe(event.KindServerLog, func(ctx context.Context, e event.Event) error {
		total.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(context.Background(), event.ServerLog{At: time.Now(), Message: "line"})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := b.Subscribe(event.KindServerLog, func(ctx context.Context, e event.Event) error { return nil })
				b.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()

	if total.Load() != 800 {
		t.Errorf("total = %d, want 800", total.Load())
	}
}

func TestHandlerErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := error(&HandlerError{SubscriptionID: "x", Kind: event.KindPlayerLeft, Err: sentinel})
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is did not see through HandlerError")
	}
	var he *HandlerError
	if !errors.As(err, &he) || he.Panicked() {
		t.Errorf("errors.As = %v, panicked = %v", he, he.Panicked())
	}
}
