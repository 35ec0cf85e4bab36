package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const (
	providerIdentifier = "com.plexapp.plugins.library"
	audioBoost         = 100
)

// LoadParams describes the media a Plex Media Server should stream to the
// receiver. All fields except ServerVersion and Offset are required.
type LoadParams struct {
	ContentID      string `json:"content_id"`
	ContentType    string `json:"content_type"`
	ServerID       string `json:"server_id"`
	ServerURI      string `json:"server_uri"`
	TransientToken string `json:"transient_token"`
	Username       string `json:"username"`
	QueueID        string `json:"queue_id"`

	ServerVersion string `json:"server_version,omitempty"`
	// Offset is the playback start position in milliseconds.
	Offset int64 `json:"offset,omitempty"`
}

// Validate reports the first missing required field. The controller does not
// call it; it is meant for surfaces that accept untrusted input.
func (p LoadParams) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"content_id", p.ContentID},
		{"content_type", p.ContentType},
		{"server_id", p.ServerID},
		{"server_uri", p.ServerURI},
		{"transient_token", p.TransientToken},
		{"username", p.Username},
		{"queue_id", p.QueueID},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s is required", field.name)
		}
	}
	if p.Offset < 0 {
		return errors.New("offset must not be negative")
	}
	u, err := url.Parse(p.ServerURI)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return errors.New("server_uri must be an absolute http(s) URI")
	}
	return nil
}

type loadRequest struct {
	Type           string    `json:"type"`
	RequestID      int       `json:"requestId"`
	SessionID      *string   `json:"sessionId"`
	Media          loadMedia `json:"media"`
	ActiveTrackIDs []int     `json:"activeTrackIds"`
	Autoplay       bool      `json:"autoplay"`
	CurrentTime    int64     `json:"currentTime"`
	CustomData     *struct{} `json:"customData"`
}

// SetRequestId lets the channel stamp its correlation id on the wire copy.
func (r *loadRequest) SetRequestId(id int) {
	r.RequestID = id
}

type loadMedia struct {
	ContentID      string          `json:"contentId"`
	StreamType     string          `json:"streamType"`
	Metadata       json.RawMessage `json:"metadata"`
	Duration       *float64        `json:"duration"`
	Tracks         []any           `json:"tracks"`
	TextTrackStyle *struct{}       `json:"textTrackStyle"`
	CustomData     loadCustomData  `json:"customData"`
}

type loadCustomData struct {
	PlayQueueType      string     `json:"playQueueType"`
	ProviderIdentifier string     `json:"providerIdentifier"`
	ContainerKey       string     `json:"containerKey"`
	Offset             int64      `json:"offset"`
	DirectPlay         bool       `json:"directPlay"`
	DirectStream       bool       `json:"directStream"`
	AudioBoost         int        `json:"audioBoost"`
	Server             serverInfo `json:"server"`
	PrimaryServer      serverInfo `json:"primaryServer"`
	User               userInfo   `json:"user"`
}

type serverInfo struct {
	MachineIdentifier        string `json:"machineIdentifier"`
	TranscoderVideo          bool   `json:"transcoderVideo"`
	TranscoderVideoRemuxOnly bool   `json:"transcoderVideoRemuxOnly"`
	TranscoderAudio          bool   `json:"transcoderAudio"`
	Version                  string `json:"version"`
	MyPlexSubscription       bool   `json:"myPlexSubscription"`
	IsVerifiedHostname       bool   `json:"isVerifiedHostname"`
	Protocol                 string `json:"protocol"`
	Address                  string `json:"address"`
	Port                     string `json:"port"`
	AccessToken              string `json:"accessToken"`
}

type userInfo struct {
	Username string `json:"username"`
}

// PlayMedia launches the Plex receiver app and, once it reports ready, sends
// a LOAD request for params. It returns after the LOAD has been handed to
// the channel; the reply is reconciled asynchronously.
func (c *Controller) PlayMedia(ctx context.Context, params LoadParams) error {
	ready, err := c.launcher.LaunchApp(ctx, AppID)
	if err != nil {
		return fmt.Errorf("launch app %s: %w", AppID, err)
	}

	timer := time.NewTimer(c.launchTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
		c.logger.Warn("plex_launch_timeout", slog.Duration("timeout", c.launchTimeout))
		return ErrLaunchTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Debug("plex_app_launched", slog.String("app_id", AppID))
	return c.setLoad(ctx, params)
}

func (c *Controller) setLoad(ctx context.Context, params LoadParams) error {
	requestID := c.nextRequestID()
	bodyRequestID := 0
	if c.threadRequestID {
		bodyRequestID = requestID
	}

	req, err := buildLoadRequest(params, bodyRequestID)
	if err != nil {
		return err
	}
	server := req.Media.CustomData.Server
	c.logger.Debug(
		"plex_load",
		slog.String("protocol", server.Protocol),
		slog.String("address", server.Address),
		slog.String("port", server.Port),
		slog.Bool("verified", server.IsVerifiedHostname),
		slog.Int("request_id", requestID),
	)

	return c.send(ctx, NamespaceMedia, typeLoad, req, c.UpdateStatus)
}

// buildLoadRequest is a pure function of params and requestID.
func buildLoadRequest(params LoadParams, requestID int) (*loadRequest, error) {
	serverURI, err := url.Parse(strings.TrimSpace(params.ServerURI))
	if err != nil {
		return nil, fmt.Errorf("parse server uri: %w", err)
	}
	protocol := serverURI.Scheme
	verified := protocol == "https"

	version := params.ServerVersion
	if version == "" {
		version = DefaultServerVersion
	}

	server := serverInfo{
		MachineIdentifier:        params.ServerID,
		TranscoderVideo:          true,
		TranscoderVideoRemuxOnly: false,
		TranscoderAudio:          true,
		Version:                  version,
		MyPlexSubscription:       true,
		IsVerifiedHostname:       verified,
		Protocol:                 protocol,
		Address:                  strings.ToLower(serverURI.Hostname()),
		Port:                     serverPort(serverURI),
		AccessToken:              params.TransientToken,
	}

	return &loadRequest{
		Type:      typeLoad,
		RequestID: requestID,
		Media: loadMedia{
			ContentID:  params.ContentID,
			StreamType: StreamTypeBuffered,
			CustomData: loadCustomData{
				PlayQueueType:      params.ContentType,
				ProviderIdentifier: providerIdentifier,
				ContainerKey:       fmt.Sprintf("/playQueues/%s?own=1", params.QueueID),
				Offset:             params.Offset,
				DirectPlay:         true,
				DirectStream:       true,
				AudioBoost:         audioBoost,
				Server:             server,
				PrimaryServer:      server,
				User:               userInfo{Username: params.Username},
			},
		},
		Autoplay:    true,
		CurrentTime: params.Offset,
	}, nil
}

// serverPort falls back to the scheme's default port when the URI has none.
// The receiver builds its stream URL from protocol, address and port, so an
// empty or "None" port would leave it with an unusable server address.
func serverPort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}
