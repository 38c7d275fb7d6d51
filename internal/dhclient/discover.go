package dhclient

import (
	"net"
)

// DiscoverMode selects which interfaces a discovery pass is for.
type DiscoverMode uint8

const (
	// DiscoverUnconfigured refreshes host data before anything is configured.
	DiscoverUnconfigured DiscoverMode = iota
	// DiscoverRequested keeps only interfaces that were asked for.
	DiscoverRequested
	// DiscoverRunning keeps everything on the list.
	DiscoverRunning
)

func (m DiscoverMode) String() string {
	switch m {
	case DiscoverUnconfigured:
		return "unconfigured"
	case DiscoverRequested:
		return "requested"
	case DiscoverRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Discoverer reports the host's network interfaces.
type Discoverer interface {
	Discover(mode DiscoverMode) ([]Link, error)
}

// NetDiscoverer reads host interfaces through the net package.
type NetDiscoverer struct{}

func (NetDiscoverer) Discover(DiscoverMode) ([]Link, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(ifaces))
	for _, ifi := range ifaces {
		links = append(links, Link{
			Name:         ifi.Name,
			Index:        ifi.Index,
			MTU:          ifi.MTU,
			HardwareAddr: ifi.HardwareAddr,
			Up:           ifi.Flags&net.FlagUp != 0,
			Broadcast:    ifi.Flags&net.FlagBroadcast != 0,
			Loopback:     ifi.Flags&net.FlagLoopback != 0,
		})
	}
	return links, nil
}
