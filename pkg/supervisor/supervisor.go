// Package supervisor owns the process lifecycle: it builds the notifiers,
// sessions, and event sources from configuration, routes on-demand commands,
// restarts failed sources with backoff, and drains everything on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/capture"
	"github.com/tinyland-inc/camgate/pkg/config"
	"github.com/tinyland-inc/camgate/pkg/events"
	"github.com/tinyland-inc/camgate/pkg/health"
	"github.com/tinyland-inc/camgate/pkg/logger"
	"github.com/tinyland-inc/camgate/pkg/notify"
	"github.com/tinyland-inc/camgate/pkg/onvif"
	"github.com/tinyland-inc/camgate/pkg/sched"
	"github.com/tinyland-inc/camgate/pkg/session"
)

// Supervisor wires one process worth of cameras, bots, and plumbing.
type Supervisor struct {
	cfg *config.Config
	bus *bus.CaptureBus

	notifiers map[string]notify.Notifier
	sessions  map[string]*session.Session

	capturer capture.Capturer

	// Factories are swappable so tests can substitute fakes for the ONVIF
	// transport and the chat backends.
	newSource   func(cam config.CameraConfig) events.Source
	newNotifier func(bot config.BotConfig, cb *bus.CaptureBus) (notify.Notifier, error)

	backoffMin time.Duration
	backoffCap time.Duration
	healthSrv  *health.Server
}

func New(cfg *config.Config) *Supervisor {
	s := &Supervisor{
		cfg:         cfg,
		bus:         bus.NewCaptureBus(),
		notifiers:   make(map[string]notify.Notifier),
		sessions:    make(map[string]*session.Session),
		newNotifier: notify.New,
		backoffMin:  time.Second,
		backoffCap:  time.Duration(cfg.Events.BackoffCapSeconds) * time.Second,
	}
	s.capturer = capture.NewFFmpegCapturer(
		cfg.Capture.FFmpegBin,
		time.Duration(cfg.Capture.TimeoutGraceSeconds)*time.Second,
	)
	s.newSource = func(cam config.CameraConfig) events.Source {
		client := onvif.NewClient(cam.OnvifAddr(), cam.Username, cam.Password)
		return events.NewPullPointSource(cam.Name, client, events.Options{
			SubscriptionTerm: time.Duration(cfg.Events.SubscriptionMinutes) * time.Minute,
			PullWait:         time.Duration(cfg.Events.PullTimeoutSeconds) * time.Second,
		})
	}
	return s
}

// Run starts everything and blocks until ctx is canceled, then performs the
// drain sequence. A startup failure (a bot that cannot connect) returns
// before any session starts.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.startNotifiers(ctx); err != nil {
		s.stopNotifiers()
		return err
	}

	var wg sync.WaitGroup
	for _, cam := range s.cfg.Cameras {
		notifier := s.notifiers[cam.Bot]
		sess := session.New(cam, s.capturer, notifier)
		s.sessions[cam.Name] = sess

		wg.Add(2)
		go func() {
			defer wg.Done()
			sess.Run(ctx)
		}()
		go func(cam config.CameraConfig, sink chan<- events.MotionEvent) {
			defer wg.Done()
			s.runSource(ctx, cam, sink)
		}(cam, sess.MotionSink())
	}

	scheduler := sched.New(s.cfg, s.bus)
	if scheduler.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	s.healthSrv = health.NewServer(
		fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port),
		s.cameraStatuses,
	)
	s.healthSrv.Start()
	s.healthSrv.SetReady(true)

	logger.InfoCF("supervisor", "All sessions started", map[string]any{
		"cameras": len(s.sessions), "bots": len(s.notifiers),
	})
	s.announceStartup(ctx)

	s.routeLoop(ctx)

	// Drain: readiness off, no new commands, wait for sessions to finish
	// their in-flight captures, then say goodbye and disconnect.
	s.healthSrv.SetReady(false)
	s.bus.Close()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.announceShutdown(shutdownCtx)
	s.stopNotifiers()
	s.healthSrv.Shutdown(shutdownCtx)

	logger.InfoC("supervisor", "Shutdown complete")
	return ctx.Err()
}

func (s *Supervisor) startNotifiers(ctx context.Context) error {
	for _, bot := range s.cfg.ReferencedBots() {
		n, err := s.newNotifier(*bot, s.bus)
		if err != nil {
			return fmt.Errorf("build notifier %q: %w", bot.Name, err)
		}
		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("start notifier %q: %w", bot.Name, err)
		}
		s.notifiers[bot.Name] = n
		logger.InfoCF("supervisor", "Notifier started", map[string]any{
			"bot": bot.Name, "kind": bot.Kind,
		})
	}
	return nil
}

func (s *Supervisor) stopNotifiers() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for name, n := range s.notifiers {
		if err := n.Stop(ctx); err != nil {
			logger.WarnCF("supervisor", "Notifier stop failed", map[string]any{
				"bot": name, "error": err.Error(),
			})
		}
	}
}

// runSource keeps one camera's event source alive, restarting it with
// bounded exponential backoff. A failure here never touches other cameras.
func (s *Supervisor) runSource(ctx context.Context, cam config.CameraConfig, sink chan<- events.MotionEvent) {
	backoff := s.backoffMin
	for {
		started := time.Now()
		src := s.newSource(cam)
		err := src.Run(ctx, sink)
		if ctx.Err() != nil {
			return
		}

		// A source that held up for a while earns a fresh backoff.
		if time.Since(started) > time.Minute {
			backoff = s.backoffMin
		}
		errMsg := "source stopped"
		if err != nil {
			errMsg = err.Error()
		}
		logger.WarnCF("supervisor", "Event source failed, restarting", map[string]any{
			"camera": cam.Name, "error": errMsg, "backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.backoffCap {
			backoff = s.backoffCap
		}
	}
}

// routeLoop consumes capture commands from the bus and hands each to its
// camera's session.
func (s *Supervisor) routeLoop(ctx context.Context) {
	for {
		cmd, ok := s.bus.Consume(ctx)
		if !ok {
			return
		}
		s.route(ctx, cmd)
	}
}

func (s *Supervisor) route(ctx context.Context, cmd bus.CaptureCommand) {
	notifier := s.notifiers[cmd.Bot]
	cameras := s.cfg.CamerasForBot(cmd.Bot)

	name := cmd.Camera
	if name == "" {
		// A bot watching exactly one camera needs no camera argument.
		if len(cameras) != 1 {
			s.reply(ctx, notifier, fmt.Sprintf("Specify a camera: %s", strings.Join(cameras, ", ")))
			return
		}
		name = cameras[0]
	}

	sess := s.sessions[name]
	if sess == nil || !slices.Contains(cameras, name) {
		s.reply(ctx, notifier, fmt.Sprintf("Unknown camera %q. Cameras: %s", name, strings.Join(cameras, ", ")))
		return
	}

	if !sess.Offer(cmd) {
		logger.WarnCF("supervisor", "Command dropped, session queue full", map[string]any{
			"camera": name, "command": cmd.ID,
		})
	}
}

func (s *Supervisor) reply(ctx context.Context, n notify.Notifier, text string) {
	if n == nil {
		return
	}
	if err := n.SendAlert(ctx, text); err != nil {
		logger.WarnCF("supervisor", "Reply failed", map[string]any{"error": err.Error()})
	}
}

func (s *Supervisor) announceStartup(ctx context.Context) {
	for name, n := range s.notifiers {
		cameras := s.cfg.CamerasForBot(name)
		s.reply(ctx, n, fmt.Sprintf("camgate online, watching %s", strings.Join(cameras, ", ")))
	}
}

func (s *Supervisor) announceShutdown(ctx context.Context) {
	for _, n := range s.notifiers {
		s.reply(ctx, n, "camgate shutting down")
	}
}

func (s *Supervisor) cameraStatuses() []health.CameraStatus {
	statuses := make([]health.CameraStatus, 0, len(s.sessions))
	for _, cam := range s.cfg.Cameras {
		sess := s.sessions[cam.Name]
		if sess == nil {
			continue
		}
		statuses = append(statuses, health.CameraStatus{
			Camera: cam.Name,
			Bot:    cam.Bot,
			State:  sess.State().String(),
		})
	}
	return statuses
}
