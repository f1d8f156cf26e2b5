// Package sched fires periodic snapshot commands for cameras that declare a
// cron schedule. Scheduled captures ride the same bus as chat commands, so
// they obey the per-camera capture policies for free.
package sched

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/capture"
	"github.com/tinyland-inc/camgate/pkg/config"
	"github.com/tinyland-inc/camgate/pkg/logger"
)

type entry struct {
	camera string
	bot    string
	expr   string
	// last minute this entry fired, so sub-minute ticks cannot double-fire
	// within the same cron slot.
	lastFired time.Time
}

// Scheduler evaluates each camera's cron expression once per tick and
// publishes an image capture command when it is due.
type Scheduler struct {
	bus     *bus.CaptureBus
	entries []entry
	gron    gronx.Gronx
	tick    time.Duration
	now     func() time.Time
}

func New(cfg *config.Config, cb *bus.CaptureBus) *Scheduler {
	s := &Scheduler{
		bus:  cb,
		gron: gronx.New(),
		tick: time.Minute,
		now:  time.Now,
	}
	for _, cam := range cfg.Cameras {
		if cam.SnapshotSchedule == "" {
			continue
		}
		if !s.gron.IsValid(cam.SnapshotSchedule) {
			logger.WarnCF("sched", "Invalid snapshot schedule, skipping", map[string]any{
				"camera": cam.Name, "schedule": cam.SnapshotSchedule,
			})
			continue
		}
		s.entries = append(s.entries, entry{camera: cam.Name, bot: cam.Bot, expr: cam.SnapshotSchedule})
	}
	return s
}

// Enabled reports whether any camera has a schedule worth running a loop for.
func (s *Scheduler) Enabled() bool { return len(s.entries) > 0 }

func (s *Scheduler) Run(ctx context.Context) error {
	if !s.Enabled() {
		<-ctx.Done()
		return ctx.Err()
	}
	logger.InfoCF("sched", "Snapshot scheduler started", map[string]any{"entries": len(s.entries)})

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	ref := s.now()
	minute := ref.Truncate(time.Minute)
	for i := range s.entries {
		e := &s.entries[i]
		if e.lastFired.Equal(minute) {
			continue
		}
		due, err := s.gron.IsDue(e.expr, ref)
		if err != nil || !due {
			continue
		}
		e.lastFired = minute

		cmd := bus.CaptureCommand{
			ID:        uuid.New().String(),
			Bot:       e.bot,
			Camera:    e.camera,
			Kind:      capture.KindImage,
			Origin:    bus.OriginSchedule,
			Requester: "scheduler",
		}
		if err := s.bus.Publish(ctx, cmd); err != nil {
			logger.WarnCF("sched", "Failed to publish scheduled snapshot", map[string]any{
				"camera": e.camera, "error": err.Error(),
			})
			continue
		}
		logger.InfoCF("sched", "Scheduled snapshot queued", map[string]any{
			"camera": e.camera, "schedule": e.expr,
		})
	}
}
