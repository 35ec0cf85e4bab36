package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/buger/jsonparser"
	"github.com/vishen/go-chromecast/cast"
)

// Status is the locally cached playback state. It reflects the last media
// status the controller reconciled, not necessarily the receiver's current
// state.
type Status struct {
	Meta       map[string]any `json:"meta"`
	Volume     float64        `json:"volume"`
	Muted      bool           `json:"muted"`
	StreamType string         `json:"type"`
	State      string         `json:"state"`

	// Fresh is set by Controller.Status when the reply to its own GET_STATUS
	// was reconciled before it returned.
	Fresh bool `json:"-"`
}

func (s Status) clone() Status {
	s.Meta = maps.Clone(s.Meta)
	if s.Meta == nil {
		s.Meta = map[string]any{}
	}
	return s
}

type mediaStatus struct {
	meta           map[string]any
	streamType     string
	playerState    string
	mediaSessionID int
}

func parseMediaStatus(payload []byte) (mediaStatus, error) {
	entry, dataType, _, err := jsonparser.Get(payload, "status", "[0]")
	if err != nil || dataType != jsonparser.Object {
		return mediaStatus{}, fmt.Errorf("%w: missing status[0]", ErrMalformedStatus)
	}

	var parsed mediaStatus
	metaRaw, metaType, _, err := jsonparser.Get(entry, "media", "metadata")
	switch {
	case err != nil:
		return mediaStatus{}, fmt.Errorf("%w: missing status[0].media.metadata", ErrMalformedStatus)
	case metaType == jsonparser.Null:
		parsed.meta = map[string]any{}
	case metaType == jsonparser.Object:
		if err := json.Unmarshal(metaRaw, &parsed.meta); err != nil {
			return mediaStatus{}, fmt.Errorf("%w: metadata: %v", ErrMalformedStatus, err)
		}
	default:
		return mediaStatus{}, fmt.Errorf("%w: metadata is %s, not an object", ErrMalformedStatus, metaType)
	}

	if parsed.streamType, err = jsonparser.GetString(entry, "customData", "type"); err != nil {
		return mediaStatus{}, fmt.Errorf("%w: missing status[0].customData.type", ErrMalformedStatus)
	}
	if parsed.playerState, err = jsonparser.GetString(entry, "playerState"); err != nil {
		return mediaStatus{}, fmt.Errorf("%w: missing status[0].playerState", ErrMalformedStatus)
	}
	if id, err := jsonparser.GetInt(entry, "mediaSessionId"); err == nil {
		parsed.mediaSessionID = int(id)
	}
	return parsed, nil
}

// UpdateStatus reconciles a media status reply into the cached state and
// notifies listeners. Volume and mute are read from the live volume service,
// not from the reply. A malformed reply leaves the state untouched.
func (c *Controller) UpdateStatus(payload []byte) error {
	parsed, err := parseMediaStatus(payload)
	if err != nil {
		c.logger.Warn("plex_status_malformed", slog.String("error", err.Error()))
		return err
	}

	c.mu.Lock()
	c.state.Meta = parsed.meta
	if c.volume != nil {
		c.state.Volume, c.state.Muted = c.volume.Volume()
	}
	c.state.StreamType = parsed.streamType
	c.state.State = parsed.playerState
	if parsed.mediaSessionID != 0 {
		c.mediaSessionID = parsed.mediaSessionID
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.metrics.IncStatusUpdates()
	c.logger.Debug(
		"plex_status_updated",
		slog.String("state", snapshot.State),
		slog.String("stream_type", snapshot.StreamType),
	)
	c.fireStatusChanged(snapshot)
	return nil
}

// Snapshot returns a copy of the cached state without contacting the receiver.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Status requests a fresh media status and waits for the correlated reply,
// the status timeout, or ctx. On timeout it returns the cached state with
// Fresh=false and a nil error.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	done := make(chan error, 1)
	onReply := func(payload []byte) error {
		err := c.UpdateStatus(payload)
		done <- err
		return err
	}

	if err := c.send(ctx, NamespaceMedia, typeGetStatus, &cast.PayloadHeader{Type: typeGetStatus}, onReply); err != nil {
		return c.Snapshot(), err
	}

	timer := time.NewTimer(c.statusTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		snapshot := c.Snapshot()
		snapshot.Fresh = err == nil
		return snapshot, err
	case <-timer.C:
		c.logger.Debug("plex_status_stale", slog.Duration("timeout", c.statusTimeout))
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// ReceiveMessage handles an unsolicited message on the media namespace. It
// reports whether the message was a media status; recognized statuses are
// reconciled like solicited replies.
func (c *Controller) ReceiveMessage(payload []byte) (bool, error) {
	msgType, err := jsonparser.GetString(payload, "type")
	if err != nil || msgType != typeMediaStatus {
		return false, nil
	}
	c.logger.Debug("plex_media_status_push", slog.Int("bytes", len(payload)))
	return true, c.UpdateStatus(payload)
}
