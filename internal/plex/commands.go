package plex

import (
	"context"

	"github.com/vishen/go-chromecast/cast"
)

func (c *Controller) Play(ctx context.Context) error     { return c.command(ctx, typePlay) }
func (c *Controller) Pause(ctx context.Context) error    { return c.command(ctx, typePause) }
func (c *Controller) Stop(ctx context.Context) error     { return c.command(ctx, typeStop) }
func (c *Controller) Previous(ctx context.Context) error { return c.command(ctx, typePrevious) }
func (c *Controller) Next(ctx context.Context) error     { return c.command(ctx, typeNext) }

// Command runs one of the named playback commands: play, pause, stop,
// previous or next.
func (c *Controller) Command(ctx context.Context, name string) error {
	switch name {
	case "play":
		return c.Play(ctx)
	case "pause":
		return c.Pause(ctx)
	case "stop":
		return c.Stop(ctx)
	case "previous":
		return c.Previous(ctx)
	case "next":
		return c.Next(ctx)
	default:
		return &UnknownCommandError{Name: name}
	}
}

type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return "unknown playback command: " + e.Name
}

// command sends a fire-and-forget {type: msgType} on the control namespace.
func (c *Controller) command(ctx context.Context, msgType string) error {
	c.nextRequestID()
	return c.send(ctx, NamespacePlex, msgType, &cast.PayloadHeader{Type: msgType}, nil)
}

// SetVolume sets the receiver volume from a percentage in [0, 100].
func (c *Controller) SetVolume(ctx context.Context, percent float64) error {
	return c.volume.SetVolume(ctx, percent/100)
}

func (c *Controller) VolumeUp(ctx context.Context) error {
	return c.volume.VolumeUp(ctx)
}

func (c *Controller) VolumeDown(ctx context.Context) error {
	return c.volume.VolumeDown(ctx)
}

func (c *Controller) Mute(ctx context.Context, muted bool) error {
	return c.volume.SetMuted(ctx, muted)
}
