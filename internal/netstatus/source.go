package netstatus

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Source reports the platform's view of connectivity.
type Source interface {
	Online() bool
}

// Modes accepted by SourceForMode.
const (
	ModeAuto    = "auto"
	ModeOnline  = "online"
	ModeOffline = "offline"
)

// StaticSource always reports the same state.
type StaticSource bool

func (s StaticSource) Online() bool { return bool(s) }

// InterfaceSource reports online when at least one non-loopback interface is
// up and has an address. It reads link state only.
type InterfaceSource struct {
	// Interfaces lists interfaces; defaults to net.Interfaces.
	Interfaces func() ([]net.Interface, error)
}

func (s InterfaceSource) Online() bool {
	list := s.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		slog.Debug("netstatus: list interfaces", "err", err)
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true
	}
	return false
}

// SourceForMode maps a configured network mode to a source.
func SourceForMode(mode string) Source {
	switch mode {
	case ModeOnline:
		return StaticSource(true)
	case ModeOffline:
		return StaticSource(false)
	default:
		return InterfaceSource{}
	}
}

// Watch polls src and feeds transitions into m until ctx is done.
func Watch(ctx context.Context, m *Monitor, src Source, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := src.Online()
			if m.Set(online) {
				slog.Info("connectivity changed", "online", online)
			}
		}
	}
}
