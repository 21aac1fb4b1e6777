// Package agent assembles the mesh agent: discovery-fed topology, backend
// drivers and client listeners.
package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weibocom/breeze-sub003/common/logging"
	"github.com/weibocom/breeze-sub003/discovery"
	"github.com/weibocom/breeze-sub003/ds/cid"
	"github.com/weibocom/breeze-sub003/endpoint"
	"github.com/weibocom/breeze-sub003/metrics"
	"github.com/weibocom/breeze-sub003/protocol"
	"github.com/weibocom/breeze-sub003/stream"
)

type options struct {
	Log      *zap.SugaredLogger
	Discover discovery.Discover
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Option configures the agent.
type Option func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithDiscover overrides the discovery client; the default serves static
// files from the configured directory.
func WithDiscover(d discovery.Discover) Option {
	return func(o *options) {
		o.Discover = d
	}
}

// update is one topology delta heading for the single writer.
type update struct {
	name string
	body []byte
	// rebuild republishes from the stored config (DNS set changed).
	rebuild bool
}

// Agent is the mesh proxy process.
type Agent struct {
	cfg      *Config
	log      *zap.SugaredLogger
	discover discovery.Discover

	topo    *endpoint.Topology
	updates chan update
	cids    *cid.Ids

	refresher *discovery.DNSRefresher

	mu        sync.Mutex
	configs   map[string]*endpoint.Config
	listeners map[string]net.Listener
}

// New creates an agent from its configuration.
func New(cfg *Config, opts ...Option) (*Agent, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.Log
	log.Infow("initializing mesh agent", zap.Any("config", cfg))
	metrics.Init()
	log.Infow("metrics instance", zap.String("ip", metrics.LocalIP()))

	disc := o.Discover
	if disc == nil {
		if cfg.Discovery.StaticDir == "" {
			return nil, fmt.Errorf("no discovery configured: set discovery.static_dir or inject a client")
		}
		fixed, err := loadStaticDir(cfg.Discovery.StaticDir)
		if err != nil {
			return nil, err
		}
		disc = fixed
	}

	return &Agent{
		cfg:       cfg,
		log:       log,
		discover:  disc,
		topo:      endpoint.NewTopology(),
		updates:   make(chan update, 64),
		cids:      cid.WithCapacity(16384),
		configs:   map[string]*endpoint.Config{},
		listeners: map[string]net.Listener{},
	}, nil
}

// loadStaticDir builds a Fixed discovery over one YAML file per service.
func loadStaticDir(dir string) (*discovery.Fixed, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read static discovery dir: %w", err)
	}
	fixed := discovery.NewFixed()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		fixed.Set(strings.TrimSuffix(e.Name(), ".yaml"), body)
	}
	return fixed, nil
}

// Run blocks serving until the context ends.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("running mesh agent")
	defer a.log.Info("stopped mesh agent")

	services, err := a.watchedServices()
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return fmt.Errorf("no services to serve")
	}

	// Backend hostname refresh; created first so the topology writer can
	// register hosts as it builds services.
	a.refresher = discovery.NewDNSRefresher(
		discovery.SystemResolver{},
		a.cfg.Discovery.DNSInterval,
		func(host string, _ []string) {
			a.rebuildAll(ctx, host)
		},
		a.log,
	)

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return a.refresher.Run(ctx)
	})

	// The single topology writer.
	wg.Go(func() error {
		return a.topologyWriter(ctx)
	})

	// One discovery watcher per service.
	watcher := discovery.NewWatcher(a.discover, a.cfg.Discovery.Interval, a.log)
	for _, name := range services {
		wg.Go(func() error {
			svcName := discovery.NewServiceName(name)
			return watcher.Watch(ctx, svcName, func(body []byte) error {
				select {
				case a.updates <- update{name: name, body: body}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		})
	}

	<-ctx.Done()
	a.closeListeners()
	return wg.Wait()
}

// watchedServices resolves the service name set: the explicit list, plus
// whatever matching sockets already exist in the socks dir.
func (a *Agent) watchedServices() ([]string, error) {
	names := append([]string{}, a.cfg.Discovery.Services...)

	if dir := a.cfg.Listen.SocksDir; dir != "" {
		filter, err := discovery.NewWatchFilter(a.cfg.Discovery.Watch)
		if err != nil {
			return nil, fmt.Errorf("bad watch filter: %w", err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to scan socks dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sock") {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ".sock")
			if _, _, _, ok := discovery.ParseSocketName(e.Name()); !ok {
				a.log.Warnw("skipping unparseable socket name", zap.String("file", e.Name()))
				continue
			}
			if filter.Match(discovery.NewServiceName(name).Name()) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// topologyWriter is the only goroutine that publishes snapshots.
func (a *Agent) topologyWriter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-a.updates:
			if err := a.apply(ctx, u); err != nil {
				a.log.Errorw("failed to apply topology update",
					zap.String("service", u.name), zap.Error(err))
			}
		}
	}
}

func (a *Agent) apply(ctx context.Context, u update) error {
	var cfg *endpoint.Config
	var err error
	if u.rebuild {
		a.mu.Lock()
		cfg = a.configs[u.name]
		a.mu.Unlock()
		if cfg == nil {
			return nil
		}
	} else {
		cfg, err = endpoint.ParseConfig(u.body)
		if err != nil {
			return err
		}
	}

	builder := func(addr string, opt endpoint.BackendOptions) endpoint.Endpoint {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			a.refresher.Register(host)
		}
		return stream.NewBackend(addr, opt, a.log)
	}

	svc, err := endpoint.BuildService(u.name, cfg, builder, a.log)
	if err != nil {
		return err
	}

	old, guard, hadOld := a.topo.Lookup(u.name)
	if hadOld {
		guard.Release()
	}
	a.topo.Publish(svc)
	metrics.TopologyUpdates.Inc()

	a.mu.Lock()
	a.configs[u.name] = cfg
	a.mu.Unlock()

	if hadOld {
		// The displaced service keeps answering its in-flight requests, then
		// its backends close.
		time.AfterFunc(a.cfg.Discovery.DrainDelay, old.Close)
	}

	return a.ensureListeners(ctx, u.name, cfg)
}

// rebuildAll republishes every service using a backend whose DNS set
// changed.
func (a *Agent) rebuildAll(ctx context.Context, host string) {
	a.mu.Lock()
	var names []string
	for name, cfg := range a.configs {
		if configUsesHost(cfg, host) {
			names = append(names, name)
		}
	}
	a.mu.Unlock()

	for _, name := range names {
		select {
		case a.updates <- update{name: name, rebuild: true}:
		case <-ctx.Done():
			return
		}
	}
}

func configUsesHost(cfg *endpoint.Config, host string) bool {
	groups, err := cfg.Groups()
	if err != nil {
		return false
	}
	for _, g := range groups {
		for _, addr := range g.Addrs {
			if h, _, err := net.SplitHostPort(addr); err == nil && h == host {
				return true
			}
		}
	}
	return false
}

// ensureListeners opens the service's client-facing sockets once.
func (a *Agent) ensureListeners(ctx context.Context, name string, cfg *endpoint.Config) error {
	var specs []listenSpec
	for _, port := range strings.Split(cfg.Basic.Listen, ",") {
		port = strings.TrimSpace(port)
		if port == "" {
			continue
		}
		specs = append(specs, listenSpec{
			network: "tcp",
			addr:    net.JoinHostPort(a.cfg.Listen.Host, port),
		})
	}
	if dir := a.cfg.Listen.SocksDir; dir != "" {
		specs = append(specs, listenSpec{
			network: "unix",
			addr:    filepath.Join(dir, name+".sock"),
		})
	}

	for _, spec := range specs {
		if err := a.listen(ctx, spec, name); err != nil {
			return err
		}
	}
	return nil
}

type listenSpec struct {
	network string
	addr    string
}

func (a *Agent) listen(ctx context.Context, spec listenSpec, service string) error {
	a.mu.Lock()
	if _, ok := a.listeners[spec.addr]; ok {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if spec.network == "unix" {
		// A stale socket file from a previous process blocks the bind.
		os.Remove(spec.addr)
	}
	ln, err := net.Listen(spec.network, spec.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s://%s: %w", spec.network, spec.addr, err)
	}
	a.mu.Lock()
	a.listeners[spec.addr] = ln
	a.mu.Unlock()

	a.log.Infow("listening", zap.String("addr", spec.addr), zap.String("service", service))

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Warnw("accept failed", zap.String("addr", spec.addr), zap.Error(err))
				return
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			connID, ok := cid.New(a.cids)
			if !ok {
				a.log.Warnw("connection id space exhausted", zap.String("addr", spec.addr))
				conn.Close()
				continue
			}
			pipeline := stream.NewPipeline(conn, service, a.topo, stream.PipelineOptions{
				Depth:   a.cfg.Pipeline.Depth,
				BufSize: int(a.cfg.Pipeline.BufSize.Bytes()),
			}, logging.ForConn(a.log, service, connID.Id()))
			go func() {
				defer connID.Close()
				if err := pipeline.Run(ctx); err != nil && !isBenign(err) {
					a.log.Debugw("connection closed", zap.Error(err))
				}
			}()
		}
	}()
	return nil
}

func isBenign(err error) bool {
	return err == nil ||
		protocol.ErrReadEof == err ||
		protocol.ErrQuit == err
}

func (a *Agent) closeListeners() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ln := range a.listeners {
		ln.Close()
	}
}
