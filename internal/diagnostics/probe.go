package diagnostics

import (
	"net"
	"strconv"
	"time"
)

var dialTimeout = net.DialTimeout

type ProbeResult struct {
	Address   string `json:"address"`
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProbeReceiver checks that the receiver accepts TCP connections on its
// Cast port.
func ProbeReceiver(host string, port int, timeout time.Duration) ProbeResult {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	startedAt := time.Now()

	conn, err := dialTimeout("tcp", address, timeout)
	if err != nil {
		return ProbeResult{Address: address, Error: err.Error()}
	}
	_ = conn.Close()

	return ProbeResult{
		Address:   address,
		Reachable: true,
		LatencyMS: time.Since(startedAt).Milliseconds(),
	}
}
