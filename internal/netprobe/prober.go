// Package netprobe implements the network diagnostics: relay connectivity,
// NAT symmetry, throughput and bandwidth, all over STUN binding
// transactions.
package netprobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"rtcdoctor/internal/ice"
)

// Options tunes the prober.
type Options struct {
	// Timeout bounds a single binding transaction attempt.
	Timeout time.Duration
	// Retries is the number of retransmissions per transaction.
	Retries int
	// PortMin and PortMax bound the local ports used for candidate
	// gathering. Zero lets the OS choose.
	PortMin int
	PortMax int

	ThroughputCount    int
	ThroughputInterval time.Duration
	BandwidthWindow    time.Duration

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.ThroughputCount <= 0 {
		o.ThroughputCount = 20
	}
	if o.ThroughputInterval <= 0 {
		o.ThroughputInterval = 25 * time.Millisecond
	}
	if o.BandwidthWindow <= 0 {
		o.BandwidthWindow = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Prober runs STUN transactions. Every server gets its own circuit
// breaker so a dead server stops costing a full timeout per check.
type Prober struct {
	opts     Options
	resolver *net.Resolver

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a Prober.
func New(opts Options) *Prober {
	opts.setDefaults()
	return &Prober{
		opts:     opts,
		resolver: net.DefaultResolver,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (p *Prober) breaker(addr string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	cb, ok := p.breakers[addr]
	if !ok {
		logger := p.opts.Logger
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    addr,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			IsSuccessful: breakerSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("stun server breaker state changed", "server", name, "from", from.String(), "to", to.String())
			},
		})
		p.breakers[addr] = cb
	}
	return cb
}

// breakerSuccess keeps cancellations and run deadlines from counting
// against the server.
func breakerSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// BreakerState returns the breaker state for a server address.
func (p *Prober) BreakerState(addr string) gobreaker.State {
	return p.breaker(addr).State()
}

// listen opens a UDP socket, on a random port in [PortMin, PortMax] when
// a range is configured.
func (p *Prober) listen(ctx context.Context) (*net.UDPConn, error) {
	var lc net.ListenConfig
	if p.opts.PortMin > 0 && p.opts.PortMax >= p.opts.PortMin {
		span := p.opts.PortMax - p.opts.PortMin + 1
		for i := 0; i < 10; i++ {
			port := p.opts.PortMin + rand.Intn(span)
			conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
			if err == nil {
				return conn.(*net.UDPConn), nil
			}
		}
		p.opts.Logger.Debug("no free port in range, letting the OS choose", "min", p.opts.PortMin, "max", p.opts.PortMax)
	}
	conn, err := lc.ListenPacket(ctx, "udp4", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	return conn.(*net.UDPConn), nil
}

// resolve returns the UDP address of srv, or an error for servers that
// cannot be reached over UDP.
func (p *Prober) resolve(ctx context.Context, srv ice.Server) (netip.AddrPort, error) {
	if srv.Transport != "udp" {
		return netip.AddrPort{}, fmt.Errorf("%s: transport %s not supported", srv.URL, srv.Transport)
	}
	if ip, err := netip.ParseAddr(srv.Host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), uint16(srv.Port)), nil
	}
	ips, err := p.resolver.LookupNetIP(ctx, "ip4", srv.Host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", srv.Host, err)
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: no addresses", srv.Host)
	}
	return netip.AddrPortFrom(ips[0].Unmap(), uint16(srv.Port)), nil
}

// binding performs one binding transaction through the server's breaker.
func (p *Prober) binding(ctx context.Context, conn *net.UDPConn, server netip.AddrPort) (netip.AddrPort, time.Duration, error) {
	type answer struct {
		mapped netip.AddrPort
		rtt    time.Duration
	}
	v, err := p.breaker(server.String()).Execute(func() (any, error) {
		mapped, rtt, err := p.transact(ctx, conn, server, 0)
		if err != nil {
			return nil, err
		}
		return answer{mapped, rtt}, nil
	})
	if err != nil {
		return netip.AddrPort{}, 0, err
	}
	a := v.(answer)
	return a.mapped, a.rtt, nil
}

// transact sends a request, retransmitting on timeout, and waits for the
// matching response.
func (p *Prober) transact(ctx context.Context, conn *net.UDPConn, server netip.AddrPort, padding int) (netip.AddrPort, time.Duration, error) {
	id := newTxID()
	req := buildBindingRequest(id, padding)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 1500)
	for attempt := 0; attempt <= p.opts.Retries; attempt++ {
		sent := time.Now()
		if _, err := conn.WriteToUDPAddrPort(req, server); err != nil {
			return netip.AddrPort{}, 0, fmt.Errorf("send to %s: %w", server, err)
		}
		if err := conn.SetReadDeadline(sent.Add(p.opts.Timeout)); err != nil {
			return netip.AddrPort{}, 0, err
		}
		if ctx.Err() != nil {
			return netip.AddrPort{}, 0, ctx.Err()
		}

		for {
			n, _, err := conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				if ctx.Err() != nil {
					return netip.AddrPort{}, 0, ctx.Err()
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break
				}
				return netip.AddrPort{}, 0, err
			}
			got, mapped, err := parseBindingResponse(buf[:n])
			if got != id {
				continue // stale or foreign packet
			}
			if err != nil {
				return netip.AddrPort{}, 0, fmt.Errorf("%s: %w", server, err)
			}
			return mapped, time.Since(sent), nil
		}
	}
	return netip.AddrPort{}, 0, fmt.Errorf("%s: %w", server, errTimeout)
}

var errTimeout = errors.New("no response from server")

func localPort(conn *net.UDPConn) int {
	return conn.LocalAddr().(*net.UDPAddr).Port
}
