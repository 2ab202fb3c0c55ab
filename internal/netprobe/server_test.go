package netprobe

import (
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/ice"
	"rtcdoctor/internal/logging"
	"rtcdoctor/internal/probe"
)

// fakeSTUN is a loopback binding server speaking pion/stun messages. By default it reflects the
// sender's address; mapPort and drop change that.
type fakeSTUN struct {
	conn     *net.UDPConn
	requests atomic.Int64

	// mapPort rewrites the reflected port.
	mapPort func(port uint16) uint16
	// drop reports whether the n-th request (from zero) goes unanswered.
	drop func(n int64) bool
	// silent servers read but never answer.
	silent bool
}

func startSTUN(t *testing.T, configure func(*fakeSTUN)) *fakeSTUN {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	s := &fakeSTUN{conn: conn}
	if configure != nil {
		configure(s)
	}
	go s.serve()
	t.Cleanup(func() { conn.Close() })
	return s
}

func (s *fakeSTUN) serve() {
	buf := make([]byte, 1500)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		id, ok := bindingRequestID(buf[:n])
		if !ok {
			continue
		}
		seq := s.requests.Add(1) - 1
		if s.silent || (s.drop != nil && s.drop(seq)) {
			continue
		}
		mapped := from
		if s.mapPort != nil {
			mapped = netip.AddrPortFrom(from.Addr(), s.mapPort(from.Port()))
		}
		_, _ = s.conn.WriteToUDPAddrPort(buildBindingSuccess(id, mapped), from)
	}
}

func (s *fakeSTUN) server() ice.Server {
	port := s.conn.LocalAddr().(*net.UDPAddr).Port
	return ice.Server{
		URL:       "stun:127.0.0.1:" + strconv.Itoa(port),
		Scheme:    "stun",
		Host:      "127.0.0.1",
		Port:      port,
		Transport: "udp",
	}
}

func iceConfig(servers ...*fakeSTUN) probe.ICEConfig {
	var cfg probe.ICEConfig
	for _, s := range servers {
		cfg.Servers = append(cfg.Servers, s.server())
	}
	return cfg
}

func newTestProber() *Prober {
	return New(Options{
		Timeout:            100 * time.Millisecond,
		Retries:            2,
		ThroughputCount:    5,
		ThroughputInterval: 5 * time.Millisecond,
		BandwidthWindow:    200 * time.Millisecond,
		Logger:             logging.Discard(),
	})
}
