package adapters

import (
	"context"

	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
	"go2tv.app/go2tv/v2/devices"
)

// Discovery provides LAN receiver discovery primitives.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastConn is a Cast v2 connection to a single receiver.
type CastConn interface {
	Start(addr string, port int) error
	MsgChan() chan *pb.CastMessage
	Send(requestID int, payload cast.Payload, sourceID, destinationID, namespace string) error
	Close() error
}

// ConnFactory creates CastConn instances.
type ConnFactory interface {
	NewConn() CastConn
}
