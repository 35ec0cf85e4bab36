package plex

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"
)

const playingReply = `{"status":[{"media":{"metadata":{"title":"X"}},"customData":{"type":"BUFFERED"},"playerState":"Playing"}]}`

func TestUpdateStatusCopiesReplyAndLiveVolume(t *testing.T) {
	ctrl, _, _, volume := newTestController(t, Config{})
	volume.level = 0.75
	volume.muted = true

	if err := ctrl.UpdateStatus([]byte(playingReply)); err != nil {
		t.Fatalf("update status: %v", err)
	}

	snap := ctrl.Snapshot()
	if len(snap.Meta) != 1 || snap.Meta["title"] != "X" {
		t.Fatalf("expected metadata {title:X}, got %v", snap.Meta)
	}
	if snap.StreamType != "BUFFERED" {
		t.Fatalf("expected stream type BUFFERED, got %s", snap.StreamType)
	}
	if snap.State != "Playing" {
		t.Fatalf("expected state Playing, got %s", snap.State)
	}
	if snap.Volume != 0.75 || !snap.Muted {
		t.Fatalf("expected live volume 0.75 muted, got %v %v", snap.Volume, snap.Muted)
	}
}

func TestUpdateStatusMalformedLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no status list", `{"type":"MEDIA_STATUS"}`},
		{"empty status list", `{"status":[]}`},
		{"missing media", `{"status":[{"customData":{"type":"LIVE"},"playerState":"Playing"}]}`},
		{"missing custom type", `{"status":[{"media":{"metadata":{}},"playerState":"Playing"}]}`},
		{"missing player state", `{"status":[{"media":{"metadata":{}},"customData":{"type":"LIVE"}}]}`},
		{"metadata not an object", `{"status":[{"media":{"metadata":"oops"},"customData":{"type":"LIVE"},"playerState":"Playing"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, _, _, _ := newTestController(t, Config{})
			err := ctrl.UpdateStatus([]byte(tt.payload))
			if !errors.Is(err, ErrMalformedStatus) {
				t.Fatalf("expected ErrMalformedStatus, got %v", err)
			}
			snap := ctrl.Snapshot()
			if snap.State != "Idle" || snap.StreamType != StreamTypeUnknown {
				t.Fatalf("expected initial state to survive, got %+v", snap)
			}
		})
	}
}

func TestUpdateStatusNullMetadata(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, Config{})
	err := ctrl.UpdateStatus([]byte(`{"status":[{"media":{"metadata":null},"customData":{"type":"LIVE"},"playerState":"Paused"}]}`))
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.Meta == nil || len(snap.Meta) != 0 {
		t.Fatalf("expected empty metadata, got %v", snap.Meta)
	}
	if snap.StreamType != StreamTypeLive {
		t.Fatalf("expected LIVE, got %s", snap.StreamType)
	}
}

func TestStatusReturnsFreshSnapshotWhenReplyArrives(t *testing.T) {
	ctrl, channel, _, _ := newTestController(t, Config{StatusTimeout: time.Second})
	channel.autoReply = []byte(playingReply)

	snap, err := ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !snap.Fresh {
		t.Fatal("expected fresh snapshot")
	}
	if snap.State != "Playing" {
		t.Fatalf("expected Playing, got %s", snap.State)
	}

	sent := channel.messages()
	if len(sent) != 1 || sent[0].namespace != NamespaceMedia || sent[0].body["type"] != "GET_STATUS" {
		t.Fatalf("expected one GET_STATUS on the media namespace, got %+v", sent)
	}
}

func TestStatusReturnsStaleSnapshotOnTimeout(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, Config{StatusTimeout: 10 * time.Millisecond})

	snap, err := ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Fresh {
		t.Fatal("expected stale snapshot without a reply")
	}
	if snap.State != "Idle" {
		t.Fatalf("expected initial Idle state, got %s", snap.State)
	}
}

func TestStatusLateReplyStillReconciles(t *testing.T) {
	ctrl, channel, _, _ := newTestController(t, Config{StatusTimeout: 5 * time.Millisecond})
	if _, err := ctrl.Status(context.Background()); err != nil {
		t.Fatalf("status: %v", err)
	}

	late := channel.messages()[0].onReply
	if err := late([]byte(playingReply)); err != nil {
		t.Fatalf("late reply: %v", err)
	}
	if ctrl.Snapshot().State != "Playing" {
		t.Fatal("expected late reply to update cached state")
	}
}

func TestStatusJSONHasExactlyFiveKeys(t *testing.T) {
	for _, withReply := range []bool{true, false} {
		ctrl, channel, _, _ := newTestController(t, Config{StatusTimeout: 5 * time.Millisecond})
		if withReply {
			channel.autoReply = []byte(playingReply)
		}
		snap, err := ctrl.Status(context.Background())
		if err != nil {
			t.Fatalf("status: %v", err)
		}

		encoded, err := json.Marshal(snap)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		keys := make([]string, 0, len(decoded))
		for k := range decoded {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		want := []string{"meta", "muted", "state", "type", "volume"}
		if len(keys) != len(want) {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Fatalf("expected keys %v, got %v", want, keys)
			}
		}
	}
}

func TestReceiveMessageRoutesMediaStatusPushes(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, Config{})
	var notified int
	ctrl.RegisterStatusListener(StatusListenerFunc(func(Status) { notified++ }))

	handled, err := ctrl.ReceiveMessage([]byte(`{"type":"MEDIA_STATUS","status":[{"media":{"metadata":{"title":"Y"}},"customData":{"type":"LIVE"},"playerState":"Paused"}]}`))
	if err != nil || !handled {
		t.Fatalf("expected handled push, got handled=%v err=%v", handled, err)
	}
	if ctrl.Snapshot().State != "Paused" || notified != 1 {
		t.Fatalf("expected push to be reconciled and notified, state=%s notified=%d", ctrl.Snapshot().State, notified)
	}

	handled, err = ctrl.ReceiveMessage([]byte(`{"type":"LOAD_FAILED"}`))
	if err != nil || handled {
		t.Fatalf("expected unrelated message to be unhandled, got handled=%v err=%v", handled, err)
	}
}

func TestReceiveMessageMalformedPushIsHandledWithError(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, Config{})
	handled, err := ctrl.ReceiveMessage([]byte(`{"type":"MEDIA_STATUS","status":[]}`))
	if !handled || !errors.Is(err, ErrMalformedStatus) {
		t.Fatalf("expected handled malformed push, got handled=%v err=%v", handled, err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, Config{})
	if err := ctrl.UpdateStatus([]byte(playingReply)); err != nil {
		t.Fatalf("update status: %v", err)
	}
	snap := ctrl.Snapshot()
	snap.Meta["title"] = "mutated"
	if ctrl.Snapshot().Meta["title"] != "X" {
		t.Fatal("expected snapshot metadata to be isolated from cached state")
	}
}
