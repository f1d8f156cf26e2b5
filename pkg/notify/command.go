package notify

import (
	"strings"

	"github.com/tinyland-inc/camgate/pkg/capture"
)

// ParseGrabCommand recognizes the two chat commands:
//
//	/grabimage [camera]
//	/grabvideo [camera]
//
// A "@botname" suffix on the command word is tolerated so group-chat
// mentions like "/grabimage@camgate_bot front-door" parse the same way.
// An empty camera means "resolve to the default camera for this bot".
func ParseGrabCommand(text string) (kind capture.Kind, camera string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", "", false
	}

	word := strings.ToLower(fields[0])
	if at := strings.Index(word, "@"); at > 0 {
		word = word[:at]
	}

	switch word {
	case "/grabimage", "grabimage":
		kind = capture.KindImage
	case "/grabvideo", "grabvideo":
		kind = capture.KindVideo
	default:
		return "", "", false
	}

	if len(fields) > 1 {
		camera = fields[1]
	}
	return kind, camera, true
}
