package speedtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// Config controls a latency probe.
type Config struct {
	// Nearest servers (by distance) to ping.
	ServerCount int
	// PingConcurrency caps how many pings run at once.
	PingConcurrency int
}

type Prober struct {
	cfg     Config
	spawner Spawner
}

type Option func(*Prober)

// WithSpawner makes the prober start ping goroutines through s.
func WithSpawner(s Spawner) Option { return func(p *Prober) { p.spawner = s } }

func NewProber(cfg Config, opts ...Option) *Prober {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = 4
	}
	p := &Prober{cfg: cfg}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Probe pings the nearest servers and reports the one with the lowest latency.
func (p *Prober) Probe(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	// A fresh client per probe; package-level speedtest helpers keep global state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{}))
	defer stc.Reset()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	candidates := nearest(servers, p.cfg.ServerCount)
	p.ping(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best, reachable := fastest(candidates)
	if best == nil {
		return nil, fmt.Errorf("all latency tests failed")
	}
	return &Result{
		Timestamp:     time.Now(),
		PingMs:        float64(best.Latency.Microseconds()) / 1000,
		JitterMs:      float64(best.Jitter.Microseconds()) / 1000,
		ISP:           user.Isp,
		ServerName:    best.Sponsor,
		ServerCountry: best.Country,
		Candidates:    len(candidates),
		Reachable:     reachable,
		Duration:      time.Since(start),
	}, nil
}

func (p *Prober) ping(ctx context.Context, servers []*st.Server) {
	sem := make(chan struct{}, p.cfg.PingConcurrency)
	var wg sync.WaitGroup
	for i, s := range servers {
		wg.Add(1)
		fn := func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()
			// Failures leave Latency at zero, which fastest skips.
			_ = s.PingTestContext(ctx, nil)
		}
		if p.spawner != nil {
			p.spawner.Go(fmt.Sprintf("speedtest.ping.%d", i), fn)
		} else {
			go fn()
		}
	}
	wg.Wait()
}

// nearest returns up to n servers sorted by distance.
func nearest(servers st.Servers, n int) []*st.Server {
	out := make([]*st.Server, len(servers))
	copy(out, servers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out[:min(n, len(out))]
}

// fastest returns the reachable server with the lowest latency and the
// number of reachable servers.
func fastest(servers []*st.Server) (*st.Server, int) {
	var best *st.Server
	n := 0
	for _, s := range servers {
		if s == nil || s.Latency <= 0 {
			continue
		}
		n++
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	return best, n
}
