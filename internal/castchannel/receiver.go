package castchannel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/vishen/go-chromecast/cast"
)

const volumeStep = 0.1

type launchRequest struct {
	cast.PayloadHeader
	AppID string `json:"appId"`
}

type volumeRequest struct {
	cast.PayloadHeader
	Volume volumeFields `json:"volume"`
}

type volumeFields struct {
	Level *float64 `json:"level,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
}

type runningApp struct {
	appID       string
	sessionID   string
	transportID string
}

// Receiver speaks the platform receiver namespace: it launches applications
// and owns the device volume.
type Receiver struct {
	channel *Channel
	logger  *slog.Logger

	mu          sync.Mutex
	level       float64
	muted       bool
	apps        map[string]runningApp
	activeAppID string
	waiters     map[string][]chan struct{}
}

// NewReceiver creates a Receiver and registers it for unsolicited
// RECEIVER_STATUS messages on channel.
func NewReceiver(channel *Channel, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Receiver{
		channel: channel,
		logger:  logger,
		apps:    map[string]runningApp{},
		waiters: map[string][]chan struct{}{},
	}
	channel.Handle(NamespaceReceiver, r.receiveMessage)
	return r
}

// LaunchApp asks the receiver to start appID. The returned channel is closed
// once a receiver status lists the app with a transport; if the app is
// already running it is closed immediately.
func (r *Receiver) LaunchApp(ctx context.Context, appID string) (<-chan struct{}, error) {
	ready := make(chan struct{})

	r.mu.Lock()
	if app, ok := r.apps[appID]; ok && app.transportID != "" {
		r.activeAppID = appID
		r.mu.Unlock()
		r.channel.SetTransport(app.transportID)
		close(ready)
		return ready, nil
	}
	r.waiters[appID] = append(r.waiters[appID], ready)
	r.mu.Unlock()

	req := &launchRequest{PayloadHeader: cast.PayloadHeader{Type: "LAUNCH"}, AppID: appID}
	if err := r.channel.Send(ctx, NamespaceReceiver, req, r.handleStatus); err != nil {
		r.dropWaiter(appID, ready)
		return nil, err
	}
	r.logger.Debug("cast_launch_requested", slog.String("app_id", appID))
	return ready, nil
}

func (r *Receiver) dropWaiter(appID string, ready chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiters := r.waiters[appID]
	for i, w := range waiters {
		if w == ready {
			r.waiters[appID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(r.waiters[appID]) == 0 {
		delete(r.waiters, appID)
	}
}

// Volume returns the level and mute flag from the last receiver status.
func (r *Receiver) Volume() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level, r.muted
}

// SetVolume sets the device volume, clamping level to [0, 1].
func (r *Receiver) SetVolume(ctx context.Context, level float64) error {
	level = min(max(level, 0), 1)
	req := &volumeRequest{
		PayloadHeader: cast.PayloadHeader{Type: "SET_VOLUME"},
		Volume:        volumeFields{Level: &level},
	}
	return r.channel.Send(ctx, NamespaceReceiver, req, r.handleStatus)
}

func (r *Receiver) VolumeUp(ctx context.Context) error {
	level, _ := r.Volume()
	return r.SetVolume(ctx, level+volumeStep)
}

func (r *Receiver) VolumeDown(ctx context.Context) error {
	level, _ := r.Volume()
	return r.SetVolume(ctx, level-volumeStep)
}

func (r *Receiver) SetMuted(ctx context.Context, muted bool) error {
	req := &volumeRequest{
		PayloadHeader: cast.PayloadHeader{Type: "SET_VOLUME"},
		Volume:        volumeFields{Muted: &muted},
	}
	return r.channel.Send(ctx, NamespaceReceiver, req, r.handleStatus)
}

// Refresh requests a receiver status.
func (r *Receiver) Refresh(ctx context.Context) error {
	return r.channel.Send(ctx, NamespaceReceiver, &cast.PayloadHeader{Type: "GET_STATUS"}, r.handleStatus)
}

func (r *Receiver) receiveMessage(payload []byte) (bool, error) {
	msgType, _ := jsonparser.GetString(payload, "type")
	if msgType != "RECEIVER_STATUS" {
		return false, nil
	}
	return true, r.handleStatus(payload)
}

func (r *Receiver) handleStatus(payload []byte) error {
	msgType, _ := jsonparser.GetString(payload, "type")
	if msgType != "RECEIVER_STATUS" {
		reason, _ := jsonparser.GetString(payload, "reason")
		return fmt.Errorf("receiver replied %s %s", msgType, reason)
	}

	status, _, _, err := jsonparser.Get(payload, "status")
	if err != nil {
		return fmt.Errorf("receiver status: %w", err)
	}

	apps := map[string]runningApp{}
	_, _ = jsonparser.ArrayEach(status, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		appID, _ := jsonparser.GetString(value, "appId")
		if appID == "" {
			return
		}
		sessionID, _ := jsonparser.GetString(value, "sessionId")
		transportID, _ := jsonparser.GetString(value, "transportId")
		apps[appID] = runningApp{appID: appID, sessionID: sessionID, transportID: transportID}
	}, "applications")

	level, levelErr := jsonparser.GetFloat(status, "volume", "level")
	muted, mutedErr := jsonparser.GetBoolean(status, "volume", "muted")

	r.mu.Lock()
	if levelErr == nil {
		r.level = level
	}
	if mutedErr == nil {
		r.muted = muted
	}
	r.apps = apps

	transport := ""
	detach := false
	var ready []chan struct{}
	for appID, waiters := range r.waiters {
		app, ok := apps[appID]
		if !ok || app.transportID == "" {
			continue
		}
		ready = append(ready, waiters...)
		delete(r.waiters, appID)
		r.activeAppID = appID
	}
	if r.activeAppID != "" {
		if app, ok := apps[r.activeAppID]; ok {
			transport = app.transportID
		} else {
			r.activeAppID = ""
			detach = true
		}
	}
	r.mu.Unlock()

	if transport != "" {
		r.channel.SetTransport(transport)
	} else if detach {
		r.channel.SetTransport("")
	}
	for _, w := range ready {
		close(w)
	}
	return nil
}
