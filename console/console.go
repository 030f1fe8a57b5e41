// Package console exposes a remote command channel for operators. Commands
// arrive as plain text over a broker subject and get a one-line reply. The
// console keeps its own connection pinned to the primary endpoint so an
// operator still has a way in while alert traffic has failed over.
package console

import (
	"fmt"
	"strings"

	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/health"
)

// Controller is the slice of the service the console may drive
type Controller interface {
	health.Source
	Interrupt()
	Pause()
	Resume()
	Play(filename string) error
}

// Handler parses and executes console commands
type Handler struct {
	ctrl Controller
}

// NewHandler creates a command handler
func NewHandler(ctrl Controller) (*Handler, error) {
	if ctrl == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"console", "NewHandler", "require controller")
	}
	return &Handler{ctrl: ctrl}, nil
}

// Handle executes one command line and returns the reply text. Unknown
// commands get a usage reply rather than an error; the channel is for
// humans.
func (h *Handler) Handle(line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return usage
	}

	cmd := strings.ToLower(fields[0])
	switch cmd {
	case "status":
		return h.ctrl.Status().JSON()
	case "stop":
		h.ctrl.Interrupt()
		return "ok: current playback interrupted"
	case "pause":
		h.ctrl.Pause()
		return "ok: playback paused"
	case "resume":
		h.ctrl.Resume()
		return "ok: playback resumed"
	case "play":
		if len(fields) != 2 {
			return "usage: play <saved-filename>"
		}
		if err := h.ctrl.Play(fields[1]); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("ok: %s queued", fields[1])
	case "help":
		return usage
	default:
		return fmt.Sprintf("unknown command %q\n%s", cmd, usage)
	}
}

const usage = "commands: status | play <file> | stop | pause | resume | help"
