package session

import (
	"context"
	"errors"

	"go2tv.app/plexcast/internal/castchannel"
	"go2tv.app/plexcast/internal/domain"
	"go2tv.app/plexcast/internal/plex"
)

// Remote is the controller surface exposed to outer interfaces.
type Remote interface {
	PlayMedia(ctx context.Context, params plex.LoadParams) error
	Command(ctx context.Context, name string) error
	SetVolume(ctx context.Context, percent float64) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	Mute(ctx context.Context, muted bool) error
	Status(ctx context.Context) (plex.Status, error)
	LastMessage() string
}

var _ Remote = (*plex.Controller)(nil)

// Commands lists the names accepted by Dispatch.
var Commands = []string{"play", "pause", "stop", "previous", "next", "volume_up", "volume_down", "mute", "unmute"}

// Dispatch runs a named playback or volume command.
func Dispatch(ctx context.Context, r Remote, name string) error {
	switch name {
	case "volume_up":
		return r.VolumeUp(ctx)
	case "volume_down":
		return r.VolumeDown(ctx)
	case "mute":
		return r.Mute(ctx, true)
	case "unmute":
		return r.Mute(ctx, false)
	default:
		return r.Command(ctx, name)
	}
}

// ToolError maps controller and transport errors onto tool error codes.
func ToolError(err error) *domain.ToolError {
	if err == nil {
		return nil
	}

	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil {
		return tErr
	}

	var unknown *plex.UnknownCommandError
	switch {
	case errors.As(err, &unknown):
		return &domain.ToolError{
			Code:           "INVALID_PARAMS",
			Message:        err.Error(),
			SuggestedFixes: []string{"Use one of: play, pause, stop, previous, next, volume_up, volume_down, mute, unmute."},
		}
	case errors.Is(err, plex.ErrLaunchTimeout):
		return &domain.ToolError{
			Code:           "LAUNCH_TIMEOUT",
			Message:        err.Error(),
			SuggestedFixes: []string{"Check that the receiver is awake and retry play_media."},
		}
	case errors.Is(err, castchannel.ErrNoTransport):
		return &domain.ToolError{
			Code:           "PROTOCOL_ERROR",
			Message:        err.Error(),
			SuggestedFixes: []string{"Start playback with play_media before sending playback commands."},
		}
	case errors.Is(err, plex.ErrMalformedStatus), errors.Is(err, castchannel.ErrClosed):
		return &domain.ToolError{Code: "PROTOCOL_ERROR", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &domain.ToolError{Code: "INTERNAL_ERROR", Message: err.Error(), Details: map[string]any{"cancelled": true}}
	default:
		return &domain.ToolError{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}
