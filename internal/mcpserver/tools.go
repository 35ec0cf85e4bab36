package mcpserver

import "go2tv.app/plexcast/internal/session"

func staticTools() []tool {
	return []tool{
		{
			Name:        "list_receivers",
			Description: "Discover Chromecast receivers on the local network.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timeout_ms": map[string]any{
						"type":        "integer",
						"minimum":     minDiscoveryTimeoutMS,
						"default":     defaultDiscoveryTimeoutMS,
						"description": "Discovery timeout in milliseconds.",
					},
					"include_unreachable": map[string]any{
						"type":        "boolean",
						"default":     false,
						"description": "Include receivers that fail an immediate TCP reachability check.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "play_media",
			Description: "Launch the Plex app on the connected receiver and load an item from a Plex Media Server play queue.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content_id":      map[string]any{"type": "string", "description": "Plex library key of the item, e.g. /library/metadata/1234."},
					"content_type":    map[string]any{"type": "string", "description": "Play queue type: video, music or photo."},
					"server_id":       map[string]any{"type": "string", "description": "Machine identifier of the Plex Media Server."},
					"server_uri":      map[string]any{"type": "string", "description": "Absolute URI of the server, e.g. https://10.0.0.5:32400."},
					"transient_token": map[string]any{"type": "string", "description": "Short-lived access token for the receiver."},
					"username":        map[string]any{"type": "string", "description": "Plex account name."},
					"queue_id":        map[string]any{"type": "string", "description": "Play queue id on the server."},
					"server_version":  map[string]any{"type": "string", "description": "Server version string. Defaults to 1.10.1.4602."},
					"offset":          map[string]any{"type": "integer", "minimum": 0, "default": 0, "description": "Start position in milliseconds."},
				},
				"required":             []string{"content_id", "content_type", "server_id", "server_uri", "transient_token", "username", "queue_id"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "playback_command",
			Description: "Send a playback or volume command to the Plex receiver app.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type": "string",
						"enum": session.Commands,
					},
				},
				"required":             []string{"command"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "set_volume",
			Description: "Set the receiver volume as a percentage.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"percent": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
				},
				"required":             []string{"percent"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_status",
			Description: "Request the current playback state from the receiver: metadata, volume, mute, stream type and player state.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
	}
}
