package sched

import (
	"context"
	"testing"
	"time"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/capture"
	"github.com/tinyland-inc/camgate/pkg/config"
)

func testConfig(schedule string) *config.Config {
	return &config.Config{
		Cameras: []config.CameraConfig{
			{Name: "cam1", Bot: "alerts", SnapshotSchedule: schedule},
			{Name: "cam2", Bot: "alerts"},
		},
	}
}

func TestSchedulerFiresDueEntry(t *testing.T) {
	cb := bus.NewCaptureBus()
	defer cb.Close()
	s := New(testConfig("* * * * *"), cb)
	if !s.Enabled() {
		t.Fatal("scheduler should have one entry")
	}

	s.fireDue(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd, ok := cb.Consume(ctx)
	if !ok {
		t.Fatal("expected a scheduled command on the bus")
	}
	if cmd.Camera != "cam1" || cmd.Bot != "alerts" || cmd.Kind != capture.KindImage {
		t.Errorf("unexpected command: %+v", cmd)
	}
	if cmd.Origin != bus.OriginSchedule || cmd.Requester != "scheduler" {
		t.Errorf("scheduled command misattributed: %+v", cmd)
	}
}

func TestSchedulerFiresOncePerMinute(t *testing.T) {
	cb := bus.NewCaptureBus()
	defer cb.Close()
	s := New(testConfig("* * * * *"), cb)
	fixed := time.Date(2026, 8, 30, 12, 0, 10, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.fireDue(context.Background())
	s.fireDue(context.Background())
	fixed = fixed.Add(20 * time.Second) // still 12:00
	s.fireDue(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := cb.Consume(ctx); !ok {
		t.Fatal("expected the first fire")
	}
	short, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if cmd, ok := cb.Consume(short); ok {
		t.Errorf("same cron minute fired twice: %+v", cmd)
	}

	// Next minute fires again.
	fixed = time.Date(2026, 8, 30, 12, 1, 0, 0, time.UTC)
	s.fireDue(context.Background())
	ctx2, cancel3 := context.WithTimeout(context.Background(), time.Second)
	defer cancel3()
	if _, ok := cb.Consume(ctx2); !ok {
		t.Fatal("expected a fire in the next minute")
	}
}

func TestSchedulerSkipsInvalidAndEmpty(t *testing.T) {
	cb := bus.NewCaptureBus()
	defer cb.Close()
	s := New(testConfig("not a cron"), cb)
	if s.Enabled() {
		t.Error("invalid schedule should be skipped")
	}
	s = New(testConfig(""), cb)
	if s.Enabled() {
		t.Error("empty schedule should be skipped")
	}
}
