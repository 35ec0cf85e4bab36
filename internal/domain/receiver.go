package domain

// Receiver is a Cast receiver reachable on the local network.
type Receiver struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	IsAudioOnly bool   `json:"is_audio_only"`
}
