package castchannel

import (
	"context"
	"errors"
	"strconv"
	"testing"
)

const plexAppID = "9AC194DC"

func receiverStatus(requestID int, apps string, level float64, muted bool) string {
	return `{"type":"RECEIVER_STATUS","requestId":` + strconv.Itoa(requestID) +
		`,"status":{"applications":[` + apps + `],"volume":{"level":` +
		strconv.FormatFloat(level, 'f', -1, 64) + `,"muted":` + strconv.FormatBool(muted) + `}}}`
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestLaunchAppClosesReadyWhenAppReportsTransport(t *testing.T) {
	conn := newFakeConn()
	ch := newTestChannel(conn)
	r := NewReceiver(ch, nil)

	ready, err := r.LaunchApp(context.Background(), plexAppID)
	if err != nil {
		t.Fatalf("LaunchApp: %v", err)
	}
	launch := conn.last()
	if launch.msgType() != "LAUNCH" || launch.body["appId"] != plexAppID || launch.namespace != NamespaceReceiver {
		t.Fatalf("unexpected launch message %+v", launch)
	}
	if isClosed(ready) {
		t.Fatalf("ready must stay open until the receiver reports the app")
	}

	// Backdrop still running: not ready yet.
	ch.dispatch(castMessage(NamespaceReceiver, ReceiverID, receiverStatus(0, `{"appId":"E8C28D3C","transportId":"backdrop"}`, 0.5, false)))
	if isClosed(ready) {
		t.Fatalf("ready closed for the wrong app")
	}

	apps := `{"appId":"9AC194DC","sessionId":"s-1","transportId":"web-7"}`
	ch.dispatch(castMessage(NamespaceReceiver, ReceiverID, receiverStatus(launch.requestID, apps, 0.4, true)))
	if !isClosed(ready) {
		t.Fatalf("expected ready closed")
	}
	if ch.Transport() != "web-7" {
		t.Fatalf("expected transport web-7, got %q", ch.Transport())
	}
	if level, muted := r.Volume(); level != 0.4 || !muted {
		t.Fatalf("unexpected volume %v muted=%v", level, muted)
	}
}

func TestLaunchAppAlreadyRunning(t *testing.T) {
	conn := newFakeConn()
	ch := newTestChannel(conn)
	r := NewReceiver(ch, nil)

	ch.dispatch(castMessage(NamespaceReceiver, ReceiverID, receiverStatus(0, `{"appId":"9AC194DC","transportId":"web-7"}`, 1, false)))
	sentBefore := len(conn.messages())

	ready, err := r.LaunchApp(context.Background(), plexAppID)
	if err != nil {
		t.Fatalf("LaunchApp: %v", err)
	}
	if !isClosed(ready) {
		t.Fatalf("expected immediate readiness")
	}
	if len(conn.messages()) != sentBefore {
		t.Fatalf("no LAUNCH should be sent for a running app")
	}
	if ch.Transport() != "web-7" {
		t.Fatalf("expected transport web-7, got %q", ch.Transport())
	}
}

func TestLaunchAppErrorReplyKeepsReadyOpen(t *testing.T) {
	conn := newFakeConn()
	ch := newTestChannel(conn)
	r := NewReceiver(ch, nil)

	ready, err := r.LaunchApp(context.Background(), plexAppID)
	if err != nil {
		t.Fatalf("LaunchApp: %v", err)
	}
	id := conn.last().requestID
	ch.dispatch(castMessage(NamespaceReceiver, ReceiverID, `{"type":"LAUNCH_ERROR","requestId":`+strconv.Itoa(id)+`,"reason":"NOT_FOUND"}`))
	if isClosed(ready) {
		t.Fatalf("ready must not close on launch error")
	}
}

func TestLaunchAppSendFailure(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	r := NewReceiver(newTestChannel(conn), nil)

	if _, err := r.LaunchApp(context.Background(), plexAppID); err == nil {
		t.Fatalf("expected launch error")
	}
	if len(r.waiters) != 0 {
		t.Fatalf("expected waiter dropped, got %v", r.waiters)
	}
}

func TestAppExitDetachesTransport(t *testing.T) {
	ch := newTestChannel(newFakeConn())
	r := NewReceiver(ch, nil)

	ready, _ := r.LaunchApp(context.Background(), plexAppID)
	ch.dispatch(castMessage(NamespaceReceiver, ReceiverID, receiverStatus(0, `{"appId":"9AC194DC","transportId":"web-7"}`, 1, false)))
	if !isClosed(ready) || ch.Transport() != "web-7" {
		t.Fatalf("expected app attached")
	}

	ch.dispatch(castMessage(NamespaceReceiver, ReceiverID, receiverStatus(0, ``, 1, false)))
	if ch.Transport() != "" {
		t.Fatalf("expected transport cleared after app exit, got %q", ch.Transport())
	}
}

func TestSetVolumeClampsLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0.25, 0.25},
		{1.7, 1},
	}
	for _, tt := range tests {
		conn := newFakeConn()
		r := NewReceiver(newTestChannel(conn), nil)
		if err := r.SetVolume(context.Background(), tt.in); err != nil {
			t.Fatalf("SetVolume: %v", err)
		}
		msg := conn.last()
		volume, _ := msg.body["volume"].(map[string]any)
		if msg.msgType() != "SET_VOLUME" || volume["level"] != tt.want {
			t.Fatalf("SetVolume(%v) sent %v", tt.in, msg.body)
		}
		if _, ok := volume["muted"]; ok {
			t.Fatalf("level change must not carry muted: %v", volume)
		}
	}
}

func TestVolumeStepsFromLastStatus(t *testing.T) {
	conn := newFakeConn()
	ch := newTestChannel(conn)
	r := NewReceiver(ch, nil)
	ch.dispatch(castMessage(NamespaceReceiver, ReceiverID, receiverStatus(0, ``, 0.5, false)))

	if err := r.VolumeUp(context.Background()); err != nil {
		t.Fatalf("VolumeUp: %v", err)
	}
	up := conn.last().body["volume"].(map[string]any)["level"].(float64)
	if up < 0.599 || up > 0.601 {
		t.Fatalf("expected 0.6, got %v", up)
	}

	if err := r.VolumeDown(context.Background()); err != nil {
		t.Fatalf("VolumeDown: %v", err)
	}
	down := conn.last().body["volume"].(map[string]any)["level"].(float64)
	if down < 0.399 || down > 0.401 {
		t.Fatalf("expected 0.4, got %v", down)
	}
}

func TestSetMutedAndRefresh(t *testing.T) {
	conn := newFakeConn()
	r := NewReceiver(newTestChannel(conn), nil)

	if err := r.SetMuted(context.Background(), true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	volume := conn.last().body["volume"].(map[string]any)
	if volume["muted"] != true {
		t.Fatalf("expected muted=true, got %v", volume)
	}
	if _, ok := volume["level"]; ok {
		t.Fatalf("mute must not carry a level: %v", volume)
	}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := conn.last(); got.msgType() != "GET_STATUS" || got.namespace != NamespaceReceiver {
		t.Fatalf("unexpected refresh message %+v", got)
	}
}
