package netprobe

import (
	"context"
	"errors"
	"math"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/stun/v3"

	"rtcdoctor/internal/ice"
	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

// target is a resolved server.
type target struct {
	server ice.Server
	addr   netip.AddrPort
}

// targets resolves the UDP servers, skipping duplicates and unreachable
// names.
func (p *Prober) targets(ctx context.Context, servers []ice.Server) ([]target, error) {
	if len(servers) == 0 {
		return nil, pkgerrors.New(pkgerrors.KindICE, pkgerrors.ErrServerListEmpty)
	}

	seen := make(map[netip.AddrPort]bool)
	var out []target
	for _, srv := range servers {
		addr, err := p.resolve(ctx, srv)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.opts.Logger.Debug("skipping ice server", "server", srv.URL, "error", err)
			continue
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, target{server: srv, addr: addr})
	}
	if len(out) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.KindICE, "no usable udp ice server among %d configured", len(servers))
	}
	return out, nil
}

// Connectivity gathers candidates from two independent sockets, standing
// in for the two ends of a peer connection. The observed ports are the
// server-reflexive ports, which is what a remote peer would connect to.
func (p *Prober) Connectivity(ctx context.Context, cfg probe.ICEConfig) (probe.ConnectivityResult, error) {
	targets, err := p.targets(ctx, cfg.Relays())
	if err != nil {
		return probe.ConnectivityResult{}, err
	}

	var res probe.ConnectivityResult
	for peer := 0; peer < 2; peer++ {
		conn, err := p.listen(ctx)
		if err != nil {
			return res, pkgerrors.New(pkgerrors.KindICE, err)
		}

		local := localPort(conn)
		res.Candidates = append(res.Candidates, probe.Candidate{
			Type:    probe.CandidateHost,
			Address: conn.LocalAddr().(*net.UDPAddr).IP.String(),
			Port:    local,
		})

		for _, t := range targets {
			mapped, _, err := p.binding(ctx, conn, t.addr)
			if err != nil {
				if ctx.Err() != nil {
					conn.Close()
					return res, ctx.Err()
				}
				p.opts.Logger.Debug("binding failed", "server", t.server.URL, "error", err)
				continue
			}
			typ := probe.CandidateSrflx
			if t.server.IsRelay() {
				typ = probe.CandidateRelay
			}
			res.Candidates = append(res.Candidates, probe.Candidate{
				Type:    typ,
				Address: mapped.Addr().String(),
				Port:    int(mapped.Port()),
				Server:  t.server.URL,
			})
			res.ObservedPorts = append(res.ObservedPorts, int(mapped.Port()))
		}
		conn.Close()
	}

	if len(res.ObservedPorts) == 0 {
		return res, pkgerrors.WithDetail(pkgerrors.KindICE, pkgerrors.ErrNoCandidates, res)
	}
	return res, nil
}

// SymmetricNAT asks every server for the mapping of one socket. A NAT
// that keeps the same external port for every destination is not
// symmetric.
func (p *Prober) SymmetricNAT(ctx context.Context, cfg probe.ICEConfig) (probe.NATResult, error) {
	targets, err := p.targets(ctx, cfg.Servers)
	if err != nil {
		return probe.NATResult{}, err
	}

	conn, err := p.listen(ctx)
	if err != nil {
		return probe.NATResult{}, pkgerrors.New(pkgerrors.KindICE, err)
	}
	defer conn.Close()

	var res probe.NATResult
	for _, t := range targets {
		mapped, _, err := p.binding(ctx, conn, t.addr)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}
		res.MappedPorts = append(res.MappedPorts, int(mapped.Port()))
	}

	switch {
	case len(res.MappedPorts) == 0:
		res.Label = probe.NATNoSrflx
	case allEqual(res.MappedPorts):
		res.Label = probe.NATAsymmetric
	default:
		res.Label = probe.NATSymmetric
	}
	return res, nil
}

func allEqual(ports []int) bool {
	for _, port := range ports[1:] {
		if port != ports[0] {
			return false
		}
	}
	return true
}

// firstAnswering returns the first server that answers a binding request.
func (p *Prober) firstAnswering(ctx context.Context, conn *net.UDPConn, targets []target) (target, error) {
	var lastErr error
	for _, t := range targets {
		if _, _, err := p.binding(ctx, conn, t.addr); err != nil {
			if ctx.Err() != nil {
				return target{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		return t, nil
	}
	return target{}, pkgerrors.New(pkgerrors.KindICE, lastErr)
}

// Throughput runs a series of sequential transactions against the first
// answering relay and reports RTT and loss.
func (p *Prober) Throughput(ctx context.Context, cfg probe.ICEConfig) (probe.ThroughputResult, error) {
	targets, err := p.targets(ctx, cfg.Relays())
	if err != nil {
		return probe.ThroughputResult{}, err
	}
	conn, err := p.listen(ctx)
	if err != nil {
		return probe.ThroughputResult{}, pkgerrors.New(pkgerrors.KindICE, err)
	}
	defer conn.Close()

	t, err := p.firstAnswering(ctx, conn, targets)
	if err != nil {
		return probe.ThroughputResult{}, err
	}

	var (
		res   probe.ThroughputResult
		total time.Duration
		bytes int
	)
	start := time.Now()
	ticker := time.NewTicker(p.opts.ThroughputInterval)
	defer ticker.Stop()

	for i := 0; i < p.opts.ThroughputCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-ticker.C:
			}
		}
		res.Transactions++
		_, rtt, err := p.transact(ctx, conn, t.addr, 0)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Lost++
			continue
		}
		bytes += 2 * stun.MessageHeaderSize
		total += rtt
		if rtt > res.MaxRTT {
			res.MaxRTT = rtt
		}
	}

	received := res.Transactions - res.Lost
	if received > 0 {
		res.AverageRTT = total / time.Duration(received)
	}
	if elapsed := time.Since(start).Seconds(); elapsed > 0 {
		res.BytesPerSec = float64(bytes) / elapsed
	}

	switch {
	case received == 0:
		return res, pkgerrors.WithDetail(pkgerrors.KindICE, errTimeout, res)
	case float64(res.Lost)/float64(res.Transactions) > 0.5:
		return res, pkgerrors.WithDetail(pkgerrors.KindMedia,
			errors.New("more than half of the transactions were lost"), res)
	}
	return res, nil
}

// bandwidthProfile shapes a bandwidth burst.
type bandwidthProfile struct {
	payload   int
	perSecond int
	maxLoss   float64
	maxJitter time.Duration
}

var profiles = map[string]bandwidthProfile{
	probe.BandwidthAudio: {payload: 160, perSecond: 50, maxLoss: 0.05, maxJitter: 30 * time.Millisecond},
	probe.BandwidthVideo: {payload: 760, perSecond: 100, maxLoss: 0.05, maxJitter: 30 * time.Millisecond},
}

// VideoBandwidth measures a video-sized burst.
func (p *Prober) VideoBandwidth(ctx context.Context, cfg probe.ICEConfig) (probe.BandwidthResult, error) {
	return p.bandwidth(ctx, cfg, probe.BandwidthVideo)
}

// AudioBandwidth measures an audio-sized burst.
func (p *Prober) AudioBandwidth(ctx context.Context, cfg probe.ICEConfig) (probe.BandwidthResult, error) {
	return p.bandwidth(ctx, cfg, probe.BandwidthAudio)
}

// bandwidth paces padded binding requests at the profile rate for the
// configured window while a reader matches responses. Failures carry the
// stats gathered so far.
func (p *Prober) bandwidth(ctx context.Context, cfg probe.ICEConfig, mode string) (probe.BandwidthResult, error) {
	profile := profiles[mode]
	stats := probe.BandwidthStats{Mode: mode}

	targets, err := p.targets(ctx, cfg.Relays())
	if err != nil {
		return probe.BandwidthResult{}, pkgerrors.WithDetail(pkgerrors.KindICE, err, stats)
	}
	conn, err := p.listen(ctx)
	if err != nil {
		return probe.BandwidthResult{}, pkgerrors.WithDetail(pkgerrors.KindICE, err, stats)
	}
	defer conn.Close()

	t, err := p.firstAnswering(ctx, conn, targets)
	if err != nil {
		return probe.BandwidthResult{}, pkgerrors.WithDetail(pkgerrors.KindICE, err, stats)
	}

	var (
		mu      sync.Mutex
		pending = make(map[txID]time.Time)
		rtts    []time.Duration
		acked   int
	)
	reqSize := len(buildBindingRequest(txID{}, profile.payload))

	// clear the deadline left over from the warm-up transaction
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return probe.BandwidthResult{}, pkgerrors.WithDetail(pkgerrors.KindICE, err, stats)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		buf := make([]byte, 1500)
		for {
			n, _, err := conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				return
			}
			id, _, err := parseBindingResponse(buf[:n])
			if err != nil {
				continue
			}
			mu.Lock()
			if sent, ok := pending[id]; ok {
				delete(pending, id)
				rtts = append(rtts, time.Since(sent))
				acked += reqSize
			}
			mu.Unlock()
		}
	}()

	interval := time.Second / time.Duration(profile.perSecond)
	ticker := time.NewTicker(interval)
	deadline := time.Now().Add(p.opts.BandwidthWindow)
	start := time.Now()

	var sendErr error
send:
	for time.Now().Before(deadline) {
		id := newTxID()
		mu.Lock()
		pending[id] = time.Now()
		mu.Unlock()
		if _, err := conn.WriteToUDPAddrPort(buildBindingRequest(id, profile.payload), t.addr); err != nil {
			sendErr = err
			break
		}
		stats.PacketsSent++

		select {
		case <-ctx.Done():
			break send
		case <-ticker.C:
		}
	}
	ticker.Stop()

	// late answers still count
	_ = conn.SetReadDeadline(time.Now().Add(p.opts.Timeout))
	<-readerDone
	elapsed := time.Since(start)

	mu.Lock()
	stats.PacketsReceived = len(rtts)
	stats.AverageRTT, stats.Jitter = rttStats(rtts)
	if elapsed > 0 {
		stats.BitrateKbps = float64(acked*8) / elapsed.Seconds() / 1000
	}
	mu.Unlock()
	if stats.PacketsSent > 0 {
		stats.PacketLoss = 1 - float64(stats.PacketsReceived)/float64(stats.PacketsSent)
	}

	res := probe.BandwidthResult{Stats: stats}
	switch {
	case ctx.Err() != nil:
		return res, pkgerrors.WithDetail(pkgerrors.KindCancelled, ctx.Err(), stats)
	case sendErr != nil:
		return res, pkgerrors.WithDetail(pkgerrors.KindICE, sendErr, stats)
	case stats.PacketsReceived == 0:
		return res, pkgerrors.WithDetail(pkgerrors.KindICE, errTimeout, stats)
	case stats.PacketLoss > profile.maxLoss:
		return res, pkgerrors.WithDetail(pkgerrors.KindMedia,
			errors.New("packet loss above limit"), stats)
	case stats.Jitter > profile.maxJitter:
		return res, pkgerrors.WithDetail(pkgerrors.KindMedia,
			errors.New("jitter above limit"), stats)
	}
	return res, nil
}

// rttStats returns the mean RTT and the mean absolute difference between
// consecutive RTTs.
func rttStats(rtts []time.Duration) (time.Duration, time.Duration) {
	if len(rtts) == 0 {
		return 0, 0
	}
	var sum, diff float64
	for i, rtt := range rtts {
		sum += float64(rtt)
		if i > 0 {
			diff += math.Abs(float64(rtt - rtts[i-1]))
		}
	}
	mean := time.Duration(sum / float64(len(rtts)))
	if len(rtts) < 2 {
		return mean, 0
	}
	return mean, time.Duration(diff / float64(len(rtts)-1))
}
