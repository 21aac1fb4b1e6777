package endpoint

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/weibocom/breeze-sub003/ds/cow"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
	"github.com/weibocom/breeze-sub003/protocol/mysql"
)

// Service is one fully wired backend mesh for a business: parser, hasher and
// the endpoint tree. A Service is immutable once built; config changes build
// a replacement.
type Service struct {
	Name     string
	Resource string

	Parser protocol.Parser
	Hasher hash.Hasher

	Endpoint Endpoint
	// Layered is non-nil for cache hierarchies; the pipeline uses it for
	// miss fallback depth and repair.
	Layered *Layered

	TimeoutMaster time.Duration
	TimeoutSlave  time.Duration

	CanRead  bool
	CanWrite bool

	closers []io.Closer
}

// Close shuts down every backend connection of this service. Called by the
// topology writer after a replacement snapshot has drained.
func (s *Service) Close() {
	for _, c := range s.closers {
		c.Close()
	}
}

// BuildService wires a service from its published config.
func BuildService(name string, cfg *Config, build Builder, log *zap.SugaredLogger) (*Service, error) {
	resource := cfg.Basic.ResourceType
	parser, ok := protocol.Get(resource)
	if !ok {
		return nil, fmt.Errorf("resource type %q: %w", resource, protocol.ErrProtocolNotSupported)
	}
	if resource == "mysql" && cfg.Basic.KeyColumn != "" {
		parser = mysql.New(mysql.KeyEq{Column: cfg.Basic.KeyColumn})
	}

	hasher := hash.From(cfg.Basic.Hash, log)
	if cfg.Basic.HashTag {
		hasher = hash.WithHashTag(hasher)
	}

	groups, err := cfg.Groups()
	if err != nil {
		return nil, err
	}

	auth := protocol.Auth{
		Username: cfg.Basic.Username,
		Password: cfg.Basic.Password,
		Database: cfg.Basic.Database,
	}
	svc := &Service{
		Name:          name,
		Resource:      resource,
		Parser:        parser,
		Hasher:        hasher,
		TimeoutMaster: time.Duration(cfg.Basic.TimeoutMsMaster) * time.Millisecond,
		TimeoutSlave:  time.Duration(cfg.Basic.TimeoutMsSlave) * time.Millisecond,
		CanRead:       cfg.CanRead(),
		CanWrite:      cfg.CanWrite(),
	}
	shardsOf := func(g Group, timeoutMs int) *Shards {
		return NewShards(cfg.Basic.Distribution, g.Addrs, func(addr string) Endpoint {
			ep := build(addr, BackendOptions{
				Resource:  resource,
				TimeoutMs: timeoutMs,
				Auth:      auth,
			})
			if c, ok := ep.(io.Closer); ok {
				svc.closers = append(svc.closers, c)
			}
			return ep
		}, log)
	}

	if resource == "mq" || resource == "msgque" {
		eps := make([]Endpoint, 0, len(groups))
		for _, g := range groups {
			eps = append(eps, shardsOf(g, cfg.Basic.TimeoutMsMaster))
		}
		svc.Endpoint = NewQueue(eps, cfg.QueueSizes)
		return svc, nil
	}

	master := shardsOf(groups[0], cfg.Basic.TimeoutMsMaster)
	if len(groups) == 1 {
		svc.Endpoint = master
		return svc, nil
	}

	// Cache hierarchy: per-group pools, L1s bundled behind a random-start
	// selector, read order L1 -> master -> slave.
	var followers, readers []Endpoint
	var l1Pools []Endpoint
	var slave Endpoint
	for _, g := range groups[1:] {
		timeoutMs := cfg.Basic.TimeoutMsSlave
		pool := shardsOf(g, timeoutMs)
		followers = append(followers, pool)
		switch g.Role {
		case RoleMasterL1:
			l1Pools = append(l1Pools, pool)
		case RoleSlave:
			if slave == nil {
				slave = pool
			}
		}
	}
	if len(l1Pools) > 0 {
		readers = append(readers, NewL1Group(l1Pools))
	}
	readers = append(readers, master)
	if slave != nil {
		readers = append(readers, slave)
	}

	repair, _ := parser.(RepairBuilder)
	svc.Layered = NewLayered(master, followers, readers, repair)
	svc.Endpoint = svc.Layered
	log.Infow("built layered service",
		zap.String("service", name),
		zap.Int("groups", len(groups)),
		zap.Int("read_layers", len(readers)),
	)
	return svc, nil
}

// Topology is the atomically published name -> service map. Readers pin a
// snapshot for the duration of one dispatch; the single writer republishes a
// full replacement map per change.
type Topology struct {
	w   *cow.WriteHandle[map[string]*Service]
	r   *cow.ReadHandle[map[string]*Service]
	gen atomic.Uint64
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	w, r := cow.New(map[string]*Service{})
	return &Topology{w: w, r: r}
}

// Snapshot pins the current service map. Callers must Release the guard.
func (t *Topology) Snapshot() cow.Guard[map[string]*Service] {
	return t.r.Enter()
}

// Lookup pins a snapshot and resolves one service. Release applies to the
// guard, which keeps the service alive.
func (t *Topology) Lookup(name string) (*Service, cow.Guard[map[string]*Service], bool) {
	g := t.r.Enter()
	svc, ok := g.Get()[name]
	if !ok {
		g.Release()
		return nil, cow.Guard[map[string]*Service]{}, false
	}
	return svc, g, true
}

// Publish installs or replaces one service. Single writer only.
func (t *Topology) Publish(svc *Service) {
	next := make(map[string]*Service, len(t.w.Current())+1)
	for k, v := range t.w.Current() {
		next[k] = v
	}
	next[svc.Name] = svc
	t.gen.Add(1)
	t.w.Publish(next)
}

// Remove drops a service. Single writer only.
func (t *Topology) Remove(name string) {
	cur := t.w.Current()
	if _, ok := cur[name]; !ok {
		return
	}
	next := make(map[string]*Service, len(cur))
	for k, v := range cur {
		if k != name {
			next[k] = v
		}
	}
	t.gen.Add(1)
	t.w.Publish(next)
}

// Generation counts publishes and removals.
func (t *Topology) Generation() uint64 { return t.gen.Load() }
