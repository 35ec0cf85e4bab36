package plex

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/vishen/go-chromecast/cast"
)

type sentMessage struct {
	namespace string
	body      map[string]any
	onReply   func([]byte) error
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
	// autoReply, when set, is delivered synchronously to the reply handler.
	autoReply []byte
}

func (f *fakeChannel) Send(ctx context.Context, namespace string, payload cast.Payload, onReply func([]byte) error) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(encoded, &body); err != nil {
		return err
	}

	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{namespace: namespace, body: body, onReply: onReply})
	sendErr := f.sendErr
	reply := f.autoReply
	f.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}
	if onReply != nil && reply != nil {
		_ = onReply(reply)
	}
	return nil
}

func (f *fakeChannel) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage{}, f.sent...)
}

type fakeLauncher struct {
	confirm bool
	err     error

	mu    sync.Mutex
	appID string
	calls int
}

func (f *fakeLauncher) LaunchApp(ctx context.Context, appID string) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.appID = appID
	if f.err != nil {
		return nil, f.err
	}
	ready := make(chan struct{})
	if f.confirm {
		close(ready)
	}
	return ready, nil
}

type fakeVolume struct {
	level float64
	muted bool

	mu        sync.Mutex
	setLevels []float64
	mutes     []bool
	ups       int
	downs     int
}

func (f *fakeVolume) Volume() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level, f.muted
}

func (f *fakeVolume) SetVolume(ctx context.Context, level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLevels = append(f.setLevels, level)
	return nil
}

func (f *fakeVolume) VolumeUp(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups++
	return nil
}

func (f *fakeVolume) VolumeDown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs++
	return nil
}

func (f *fakeVolume) SetMuted(ctx context.Context, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes = append(f.mutes, muted)
	return nil
}

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeChannel, *fakeLauncher, *fakeVolume) {
	t.Helper()
	channel := &fakeChannel{}
	launcher := &fakeLauncher{confirm: true}
	volume := &fakeVolume{level: 0.4}
	return New(channel, launcher, volume, cfg), channel, launcher, volume
}

func lookup(t *testing.T, body map[string]any, path ...string) any {
	t.Helper()
	var cur any = body
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("path %v: %q is not inside an object", path, key)
		}
		cur, ok = obj[key]
		if !ok {
			t.Fatalf("path %v: missing key %q", path, key)
		}
	}
	return cur
}
