package go2tv

import (
	"context"

	"github.com/vishen/go-chromecast/cast"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/plexcast/internal/adapters"
)

// Bundle wires all external adapters in one place.
type Bundle struct {
	Discovery   adapters.Discovery
	ConnFactory adapters.ConnFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:   DiscoveryAdapter{},
		ConnFactory: ConnFactory{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type ConnFactory struct{}

func (ConnFactory) NewConn() adapters.CastConn {
	return cast.NewConnection()
}

var (
	_ adapters.Discovery   = DiscoveryAdapter{}
	_ adapters.ConnFactory = ConnFactory{}
	_ adapters.CastConn    = (*cast.Connection)(nil)
)
