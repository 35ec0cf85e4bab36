package castchannel

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
)

type wireMessage struct {
	requestID   int
	source      string
	destination string
	namespace   string
	body        map[string]any
}

func (m wireMessage) msgType() string {
	t, _ := m.body["type"].(string)
	return t
}

type fakeConn struct {
	mu        sync.Mutex
	startErrs []error
	starts    int
	sendErr   error
	sent      []wireMessage
	closed    bool
	msgs      chan *pb.CastMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan *pb.CastMessage, 16)}
}

func (f *fakeConn) Start(addr string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		return err
	}
	return nil
}

func (f *fakeConn) MsgChan() chan *pb.CastMessage {
	return f.msgs
}

func (f *fakeConn) Send(requestID int, payload cast.Payload, sourceID, destinationID, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(encoded, &body); err != nil {
		return err
	}
	f.sent = append(f.sent, wireMessage{
		requestID:   requestID,
		source:      sourceID,
		destination: destinationID,
		namespace:   namespace,
		body:        body,
	})
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeConn) messages() []wireMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wireMessage{}, f.sent...)
}

func (f *fakeConn) last() wireMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return wireMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func castMessage(namespace, source, payload string) *pb.CastMessage {
	destination := "sender-test"
	return &pb.CastMessage{
		Namespace:     &namespace,
		SourceId:      &source,
		DestinationId: &destination,
		PayloadUtf8:   &payload,
	}
}
