// Package discovery lists Cast receivers found on the local network and
// resolves a user-supplied target to one of them.
package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/plexcast/internal/adapters"
	"go2tv.app/plexcast/internal/domain"
)

const (
	DefaultCastPort = 8009

	defaultTimeoutMS             = 2500
	reachabilityWait             = 400 * time.Millisecond
	defaultDiscoveryDelaySeconds = 1
	maxPerAttemptTimeoutMS       = 3000
)

var ErrReceiverNotFound = errors.New("receiver not found")

var isReachableAddress = defaultReachableAddress

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	once    sync.Once
}

func NewService(adapter adapters.Discovery, loopCtx context.Context) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}

	return &Service{
		adapter: adapter,
		loopCtx: loopCtx,
	}
}

// ListReceivers returns the Cast receivers discovered within timeoutMS,
// sorted by name. DLNA renderers are skipped. An empty list is returned when
// nothing answered in time.
func (s *Service) ListReceivers(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Receiver, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	type loadResult struct {
		devices []devices.Device
		err     error
	}
	resultCh := make(chan loadResult, 1)

	go func() {
		loaded, err := s.loadAllDevicesUntilTimeout(ctx, timeoutMS)
		resultCh <- loadResult{devices: loaded, err: err}
	}()

	timeout := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return []domain.Receiver{}, nil
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, devices.ErrNoDeviceAvailable) {
				return []domain.Receiver{}, nil
			}
			return nil, result.err
		}

		normalized := normalizeReceivers(result.devices)
		if !includeUnreachable {
			normalized = filterReachable(normalized)
		}
		sortReceivers(normalized)
		return normalized, nil
	}
}

// Resolve discovers receivers and picks the one matching target by id or
// name. See MatchReceiver for the matching rules.
func (s *Service) Resolve(ctx context.Context, target string, timeoutMS int) (domain.Receiver, error) {
	receivers, err := s.ListReceivers(ctx, timeoutMS, true)
	if err != nil {
		return domain.Receiver{}, err
	}
	match := MatchReceiver(receivers, target)
	if match == nil {
		return domain.Receiver{}, fmt.Errorf("%w: %q (%d receivers discovered)", ErrReceiverNotFound, target, len(receivers))
	}
	return *match, nil
}

func (s *Service) loadAllDevicesUntilTimeout(ctx context.Context, timeoutMS int) ([]devices.Device, error) {
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remainingMS := int(time.Until(deadline).Milliseconds())
		if remainingMS <= 0 {
			if errors.Is(lastErr, devices.ErrNoDeviceAvailable) || lastErr == nil {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}

		attemptTimeoutMS := min(remainingMS, maxPerAttemptTimeoutMS)
		loaded, err := s.adapter.LoadAllDevices(timeoutToDelaySeconds(attemptTimeoutMS))
		if err == nil {
			if len(loaded) > 0 {
				return loaded, nil
			}
			return []devices.Device{}, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}

		lastErr = err
	}
}

func timeoutToDelaySeconds(timeoutMS int) int {
	seconds := int(math.Ceil(float64(timeoutMS) / 1000.0))
	if seconds <= 0 {
		return defaultDiscoveryDelaySeconds
	}
	return seconds
}

// MatchReceiver finds target by exact id, then exact name, then
// case-insensitively by id or name. A trailing " (...)" on either side is
// ignored in the last pass, so "Kitchen" matches "Kitchen (Chromecast Audio)".
func MatchReceiver(receivers []domain.Receiver, target string) *domain.Receiver {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	normalizedTarget := normalizeTarget(target)

	for i := range receivers {
		if strings.TrimSpace(receivers[i].ID) == target {
			return &receivers[i]
		}
	}
	for i := range receivers {
		if strings.TrimSpace(receivers[i].Name) == target {
			return &receivers[i]
		}
	}
	for i := range receivers {
		if strings.EqualFold(strings.TrimSpace(receivers[i].ID), target) {
			return &receivers[i]
		}
		if strings.EqualFold(strings.TrimSpace(receivers[i].Name), target) {
			return &receivers[i]
		}
		if normalizeTarget(receivers[i].Name) == normalizedTarget {
			return &receivers[i]
		}
	}
	return nil
}

func normalizeTarget(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(normalized, " ("); idx > 0 && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}

func normalizeReceivers(discovered []devices.Device) []domain.Receiver {
	result := make([]domain.Receiver, 0, len(discovered))
	for _, raw := range discovered {
		if !strings.Contains(strings.ToLower(raw.Type), "chrome") {
			continue
		}
		address := strings.TrimSpace(raw.Addr)
		host, port, err := SplitAddress(address)
		if err != nil {
			continue
		}

		result = append(result, domain.Receiver{
			ID:          stableID(host, port),
			Name:        strings.TrimSpace(raw.Name),
			Address:     address,
			Host:        host,
			Port:        port,
			IsAudioOnly: raw.IsAudioOnly,
		})
	}

	return result
}

// SplitAddress extracts host and port from a receiver address. Both
// "http://host:port" and bare "host:port" forms are accepted; the port
// defaults to DefaultCastPort.
func SplitAddress(address string) (string, int, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", 0, errors.New("empty receiver address")
	}
	if !strings.Contains(address, "://") {
		address = "cast://" + address
	}

	parsed, err := url.Parse(address)
	if err != nil {
		return "", 0, fmt.Errorf("parse receiver address: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("receiver address %q has no host", address)
	}

	port := DefaultCastPort
	if raw := parsed.Port(); raw != "" {
		port, err = strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("receiver address %q has an invalid port", address)
		}
	}
	return host, port, nil
}

func filterReachable(all []domain.Receiver) []domain.Receiver {
	filtered := make([]domain.Receiver, 0, len(all))
	for _, r := range all {
		if isReachableAddress(net.JoinHostPort(r.Host, strconv.Itoa(r.Port)), reachabilityWait) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func sortReceivers(all []domain.Receiver) {
	sort.Slice(all, func(i, j int) bool {
		if strings.ToLower(all[i].Name) != strings.ToLower(all[j].Name) {
			return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
		}
		if all[i].Host != all[j].Host {
			return all[i].Host < all[j].Host
		}
		return all[i].ID < all[j].ID
	})
}

func stableID(host string, port int) string {
	canonical := fmt.Sprintf("chromecast|%s:%d", strings.ToLower(host), port)
	sum := sha1.Sum([]byte(canonical))
	return "rcv_" + hex.EncodeToString(sum[:8])
}

func defaultReachableAddress(hostPort string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
