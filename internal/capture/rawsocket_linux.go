//go:build linux

package capture

import (
	"context"
	"fmt"
	"syscall"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// rawSocketFrameSize is the read buffer per frame: large enough for a
// jumbo frame, never allocated per packet since it's reused by the single
// reader goroutine.
const rawSocketFrameSize = 9216

// htons converts a host-order uint16 to network order, as required by the
// AF_PACKET protocol argument to socket(2).
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// anyInterface is the CLI's literal spelling (spec.md §6) for capturing on
// every interface instead of one named link.
const anyInterface = "any"

// RawSocketSource is the reference FrameSource: an AF_PACKET SOCK_RAW
// socket bound to one interface (or every interface, for "any"). For a named
// interface, promiscuous mode is enabled through netlink so every frame on
// the wire is seen regardless of destination MAC; "any" leaves every
// interface's promiscuous mode as it is. It is the interface-level reference
// driver called for by spec §4.2; production deployments are expected to
// supply their own FrameSource (DPDK, AF_XDP, a pcap file) behind the same
// interface.
type RawSocketSource struct {
	ifaceName string
	fd        int
	link      netlink.Link // nil when ifaceName is "any": no single link to toggle promiscuous on
	log       *zap.SugaredLogger

	wasPromisc bool
}

// NewRawSocketSource opens an AF_PACKET socket bound to ifaceName and enables
// promiscuous mode on it. For "any" it binds to every interface and does not
// change promiscuous mode.
func NewRawSocketSource(ifaceName string, log *zap.SugaredLogger) (*RawSocketSource, error) {
	fd, err := syscall.Socket(syscall.AF_PACKET, syscall.SOCK_RAW, int(htons(syscall.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("open AF_PACKET socket: %w", err)
	}

	if ifaceName == anyInterface {
		addr := syscall.SockaddrLinklayer{Protocol: htons(syscall.ETH_P_ALL)}
		if err := syscall.Bind(fd, &addr); err != nil {
			syscall.Close(fd)
			return nil, fmt.Errorf("bind to all interfaces: %w", err)
		}
		if log != nil {
			log.Warnw("capturing on \"any\": promiscuous mode is the operator's responsibility per interface, see spec §6")
		}
		return &RawSocketSource{ifaceName: ifaceName, fd: fd, log: log}, nil
	}

	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("look up interface %q: %w", ifaceName, err)
	}

	addr := syscall.SockaddrLinklayer{
		Protocol: htons(syscall.ETH_P_ALL),
		Ifindex:  link.Attrs().Index,
	}
	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("bind to interface %q: %w", ifaceName, err)
	}

	wasPromisc := link.Attrs().Promisc != 0
	if !wasPromisc {
		if err := netlink.SetPromiscOn(link); err != nil {
			syscall.Close(fd)
			return nil, fmt.Errorf("enable promiscuous mode on %q: %w", ifaceName, err)
		}
	}

	return &RawSocketSource{
		ifaceName:  ifaceName,
		fd:         fd,
		link:       link,
		log:        log,
		wasPromisc: wasPromisc,
	}, nil
}

// Frames starts a single reader goroutine and returns the channel it feeds.
// The channel is closed when ctx is canceled or a read fails.
func (s *RawSocketSource) Frames(ctx context.Context) (<-chan Frame, error) {
	out := make(chan Frame, 1024)

	// A read timeout lets the reader goroutine notice context
	// cancellation instead of blocking forever in a system call.
	tv := syscall.Timeval{Sec: 0, Usec: 200_000}
	if err := syscall.SetsockoptTimeval(s.fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		return nil, fmt.Errorf("set receive timeout: %w", err)
	}

	go func() {
		defer close(out)
		buf := make([]byte, rawSocketFrameSize)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, _, err := syscall.Recvfrom(s.fd, buf, 0)
			if err != nil {
				if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || err == syscall.EINTR {
					continue
				}
				if s.log != nil {
					s.log.Errorw("raw socket read failed", "interface", s.ifaceName, "error", err)
				}
				return
			}
			if n == 0 {
				continue
			}

			frame := make([]byte, n)
			copy(frame, buf[:n])

			select {
			case out <- Frame{Data: frame}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close restores the interface's prior promiscuous state (if this source
// toggled it) and closes the socket.
func (s *RawSocketSource) Close() error {
	if s.link != nil && !s.wasPromisc {
		if err := netlink.SetPromiscOff(s.link); err != nil && s.log != nil {
			s.log.Warnw("failed to restore promiscuous mode", "interface", s.ifaceName, "error", err)
		}
	}
	return syscall.Close(s.fd)
}
