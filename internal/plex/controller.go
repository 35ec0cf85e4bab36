// Package plex controls the Plex receiver application on a Cast device.
//
// A Controller sends playback commands on the Plex control namespace, drives
// the launch-then-load handshake for new media, and keeps a local copy of the
// receiver's playback state that is reconciled from media status replies.
package plex

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vishen/go-chromecast/cast"
	"go2tv.app/plexcast/internal/metrics"
)

const (
	AppID = "9AC194DC"

	NamespacePlex  = "urn:x-cast:plex"
	NamespaceMedia = "urn:x-cast:com.google.cast.media"

	StreamTypeUnknown  = "UNKNOWN"
	StreamTypeBuffered = "BUFFERED"
	StreamTypeLive     = "LIVE"

	DefaultServerVersion = "1.10.1.4602"

	defaultLaunchTimeout = 10 * time.Second
	defaultStatusTimeout = time.Second
	initialPlayerState   = "Idle"
)

const (
	typePlay        = "PLAY"
	typePause       = "PAUSE"
	typeStop        = "STOP"
	typeStepForward = "STEPFORWARD"
	typeStepBack    = "STEPBACK"
	typePrevious    = "PREVIOUS"
	typeNext        = "NEXT"
	typeLoad        = "LOAD"
	typeMediaStatus = "MEDIA_STATUS"
	typeGetStatus   = "GET_STATUS"
)

var (
	ErrLaunchTimeout   = errors.New("plex app did not report ready before the launch deadline")
	ErrMalformedStatus = errors.New("malformed media status")
)

// Channel sends a payload on a namespace. When onReply is non-nil it is
// invoked once with the raw JSON of the correlated reply.
type Channel interface {
	Send(ctx context.Context, namespace string, payload cast.Payload, onReply func(payload []byte) error) error
}

// Launcher starts a receiver application. The returned channel is closed
// once the application reports ready; it is never closed if launch fails.
type Launcher interface {
	LaunchApp(ctx context.Context, appID string) (<-chan struct{}, error)
}

// VolumeService is the receiver-level volume control.
type VolumeService interface {
	Volume() (level float64, muted bool)
	SetVolume(ctx context.Context, level float64) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
}

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// TearDown is invoked by Controller.TearDown before listeners are cleared.
	TearDown func()

	LaunchTimeout time.Duration
	StatusTimeout time.Duration

	// ThreadRequestID writes the session request counter into the LOAD body
	// instead of the literal 0 the Plex receiver historically received.
	ThreadRequestID bool

	RejectDuplicateListeners bool
}

type Controller struct {
	channel  Channel
	launcher Launcher
	volume   VolumeService

	logger          *slog.Logger
	metrics         *metrics.Metrics
	tearDown        func()
	launchTimeout   time.Duration
	statusTimeout   time.Duration
	threadRequestID bool
	rejectDupes     bool

	mu             sync.Mutex
	requestID      int
	mediaSessionID int
	lastMessage    string
	state          Status

	listenersMu sync.Mutex
	listeners   []StatusListener
}

func New(channel Channel, launcher Launcher, volume VolumeService, cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = defaultLaunchTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}

	c := &Controller{
		channel:         channel,
		launcher:        launcher,
		volume:          volume,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		tearDown:        cfg.TearDown,
		launchTimeout:   cfg.LaunchTimeout,
		statusTimeout:   cfg.StatusTimeout,
		threadRequestID: cfg.ThreadRequestID,
		rejectDupes:     cfg.RejectDuplicateListeners,
		lastMessage:     "No messages sent",
		state: Status{
			Meta:       map[string]any{},
			StreamType: StreamTypeUnknown,
			State:      initialPlayerState,
		},
	}
	if volume != nil {
		c.state.Volume, _ = volume.Volume()
	}
	return c
}

// RequestID returns the current value of the session request counter.
func (c *Controller) RequestID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

// MediaSessionID returns the media session id last reported by the receiver.
func (c *Controller) MediaSessionID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaSessionID
}

// LastMessage describes the last message the controller sent.
func (c *Controller) LastMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMessage
}

func (c *Controller) nextRequestID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestID++
	return c.requestID
}

func (c *Controller) send(ctx context.Context, namespace, msgType string, payload cast.Payload, onReply func([]byte) error) error {
	c.mu.Lock()
	c.lastMessage = msgType + " on " + namespace
	c.mu.Unlock()

	c.logger.Debug(
		"plex_send",
		slog.String("namespace", namespace),
		slog.String("type", msgType),
		slog.Bool("await_reply", onReply != nil),
	)
	return c.channel.Send(ctx, namespace, payload, onReply)
}
