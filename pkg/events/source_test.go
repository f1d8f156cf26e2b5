package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tinyland-inc/camgate/pkg/onvif"
)

// fakeCamera scripts PullMessages responses and records the subscription
// lifecycle calls the source makes.
type fakeCamera struct {
	mu           sync.Mutex
	pulls        [][]onvif.Notification
	pullErr      error
	lifetime     time.Duration
	renewCount   int
	unsubscribed bool
	infoErr      error
	waits        []time.Duration
}

func motionNotification(value string) onvif.Notification {
	return onvif.Notification{
		Topic: onvif.MotionTopic,
		Time:  time.Now(),
		Items: map[string]string{"IsMotion": value},
	}
}

func (f *fakeCamera) GetDeviceInformation(context.Context) (*onvif.DeviceInformation, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &onvif.DeviceInformation{Manufacturer: "Fake", Model: "FC-1"}, nil
}

func (f *fakeCamera) EventServiceAddr(context.Context) (string, error) {
	return "http://fake/onvif/Events", nil
}

func (f *fakeCamera) CreatePullPointSubscription(_ context.Context, _ string, _ time.Duration) (*onvif.Subscription, error) {
	now := time.Now()
	lifetime := f.lifetime
	if lifetime == 0 {
		lifetime = 10 * time.Minute
	}
	return &onvif.Subscription{
		Address:         "http://fake/onvif/Subscription?Idx=0",
		CurrentTime:     now,
		TerminationTime: now.Add(lifetime),
	}, nil
}

func (f *fakeCamera) PullMessages(ctx context.Context, sub *onvif.Subscription, wait time.Duration, _ int) ([]onvif.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, wait)
	if len(f.pulls) == 0 {
		if f.pullErr != nil {
			return nil, f.pullErr
		}
		// Script exhausted: simulate a quiet camera until ctx ends.
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	batch := f.pulls[0]
	f.pulls = f.pulls[1:]
	// A real camera holds the pull open; a small delay keeps renewal timing
	// observable.
	f.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	f.mu.Lock()
	return batch, nil
}

func (f *fakeCamera) Renew(_ context.Context, sub *onvif.Subscription, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewCount++
	now := time.Now()
	lifetime := f.lifetime
	if lifetime == 0 {
		lifetime = 10 * time.Minute
	}
	sub.CurrentTime = now
	sub.TerminationTime = now.Add(lifetime)
	return nil
}

func (f *fakeCamera) Unsubscribe(context.Context, *onvif.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
	return nil
}

func (f *fakeCamera) renews() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewCount
}

func (f *fakeCamera) waitArgs() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

func collect(t *testing.T, out <-chan MotionEvent, n int) []MotionEvent {
	t.Helper()
	var got []MotionEvent
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(got))
		}
	}
	return got
}

func TestSourceEmitsTransitions(t *testing.T) {
	cam := &fakeCamera{pulls: [][]onvif.Notification{
		{motionNotification("true")},
		{motionNotification("false")},
	}}
	src := newPullPointSource("cam1", cam, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan MotionEvent, 8)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	got := collect(t, out, 2)
	if got[0].Transition != MotionStarted || got[0].Camera != "cam1" {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Transition != MotionStopped {
		t.Errorf("unexpected second event: %+v", got[1])
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if !cam.unsubscribed {
		t.Error("source did not unsubscribe on shutdown")
	}
}

func TestSourceCoalescesDuplicateStarts(t *testing.T) {
	cam := &fakeCamera{pulls: [][]onvif.Notification{
		{motionNotification("true"), motionNotification("true")},
		{motionNotification("true")},
		{motionNotification("false"), motionNotification("true")},
	}}
	src := newPullPointSource("cam1", cam, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan MotionEvent, 8)
	go src.Run(ctx, out)

	got := collect(t, out, 3)
	want := []Transition{MotionStarted, MotionStopped, MotionStarted}
	for i, tr := range want {
		if got[i].Transition != tr {
			t.Errorf("event %d: expected %v, got %v", i, tr, got[i].Transition)
		}
	}

	select {
	case ev := <-out:
		t.Errorf("expected no further events, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSourceReportsUnavailable(t *testing.T) {
	cam := &fakeCamera{pullErr: fmt.Errorf("connection reset")}
	src := newPullPointSource("cam1", cam, Options{})

	out := make(chan MotionEvent, 1)
	err := src.Run(context.Background(), out)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
	if !cam.unsubscribed {
		t.Error("source did not tear down subscription on failure")
	}
}

func TestSourceRenewsBeforeExpiry(t *testing.T) {
	// 200ms lifetime forces the renewal path almost immediately; the pull
	// wait is capped by the renewal deadline so renewal always wins the race
	// against expiry.
	cam := &fakeCamera{
		lifetime: 200 * time.Millisecond,
		pulls: [][]onvif.Notification{
			{}, {}, {}, {}, {}, {}, {},
		},
	}
	src := newPullPointSource("cam1", cam, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := make(chan MotionEvent, 1)
	src.Run(ctx, out)

	if cam.renews() == 0 {
		t.Error("subscription was never renewed before expiry")
	}
}

func TestPullWaitCappedByRenewalDeadline(t *testing.T) {
	// 400ms lifetime puts the renewal deadline 200ms out. Every pull wait
	// must stay within that window; a wait stretched to a fixed floor would
	// hold the pull open past the deadline and renew late.
	cam := &fakeCamera{
		lifetime: 400 * time.Millisecond,
		pulls: [][]onvif.Notification{
			{}, {}, {}, {}, {},
		},
	}
	src := newPullPointSource("cam1", cam, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := make(chan MotionEvent, 1)
	src.Run(ctx, out)

	waits := cam.waitArgs()
	if len(waits) == 0 {
		t.Fatal("no pulls recorded")
	}
	for i, w := range waits {
		if w > 200*time.Millisecond {
			t.Errorf("pull %d: wait %v exceeds the renewal window (200ms)", i, w)
		}
		if w <= 0 {
			t.Errorf("pull %d: non-positive wait %v", i, w)
		}
	}
}
