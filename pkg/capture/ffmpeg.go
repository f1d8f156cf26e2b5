package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tinyland-inc/camgate/pkg/logger"
)

// FFmpegCapturer shells out to ffmpeg to grab a still frame or a
// fixed-duration clip from an RTSP stream. Output is piped to stdout, so no
// temp files are left behind on failure.
type FFmpegCapturer struct {
	bin   string
	grace time.Duration
}

// NewFFmpegCapturer builds a capturer using the given ffmpeg binary. grace is
// added on top of the requested duration to form the hard timeout.
func NewFFmpegCapturer(bin string, grace time.Duration) *FFmpegCapturer {
	if bin == "" {
		bin = "ffmpeg"
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &FFmpegCapturer{bin: bin, grace: grace}
}

func (f *FFmpegCapturer) Capture(ctx context.Context, req Request) (*Artifact, error) {
	// Hard timeout strictly greater than the requested duration bounds the
	// worst-case stream hold per invocation.
	timeout := f.grace + req.Duration
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-rtsp_transport", "tcp",
		"-i", req.URL,
	}
	switch req.Kind {
	case KindVideo:
		args = append(args,
			"-t", fmt.Sprintf("%.0f", req.Duration.Seconds()),
			"-c", "copy",
			"-movflags", "frag_keyframe+empty_moov",
			"-f", "mp4",
		)
	default:
		args = append(args, "-frames:v", "1", "-f", "image2")
	}
	args = append(args, "pipe:1")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	logger.DebugCF("capture", "ffmpeg finished", map[string]any{
		"camera":   req.Camera,
		"kind":     string(req.Kind),
		"bytes":    stdout.Len(),
		"duration": time.Since(started).Round(time.Millisecond).String(),
	})

	if err != nil {
		return nil, &CaptureError{
			Camera: req.Camera,
			Kind:   req.Kind,
			Reason: classify(ctx, stderr.String()),
			Err:    fmt.Errorf("%w: %s", err, firstLine(stderr.String())),
		}
	}
	if stdout.Len() == 0 {
		return nil, &CaptureError{Camera: req.Camera, Kind: req.Kind, Reason: ReasonEmpty}
	}

	return &Artifact{
		Camera:    req.Camera,
		Kind:      req.Kind,
		Data:      stdout.Bytes(),
		Timestamp: time.Now(),
	}, nil
}

func classify(ctx context.Context, stderr string) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") {
		return ReasonAuthRejected
	}
	return ReasonUnreachable
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
