// Package sharding maps 64-bit key hashes onto shard indices.
//
// Like the hash dialects, each distribution must reproduce the exact
// placement of the legacy deployments: the same config on two processes has
// to route every hash to the same shard.
package sharding

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/weibocom/breeze-sub003/hash"
)

// Distribute maps a hash onto [0, shard count).
type Distribute interface {
	Index(hash int64) int
	// Shards returns the number of distinct indices Index can produce.
	Shards() int
}

const (
	rangeSlotDefault    = 256
	modRangeSlotDefault = 256
	slotModDefault      = 1024
	splitModDefault     = 32
)

// From builds a distribution from its configuration name over the given
// backend names. Unrecognized names fall back to modula, reported through
// log; a nil log discards the warning.
func From(name string, names []string, log *zap.SugaredLogger) Distribute {
	shards := len(names)
	switch {
	case name == "modula":
		return NewModula(shards, false)
	case name == "absmodula":
		return NewModula(shards, true)
	case name == "ketama":
		return NewKetama(names)
	case name == "secmod":
		return NewSecMod(shards)
	case name == "range" || strings.HasPrefix(name, "range-"):
		slot := suffixNum(name, "range-", rangeSlotDefault)
		return newDivMod(slot, slot, slot/shards, shards, true, log)
	case strings.HasPrefix(name, "modrange-"):
		slot := suffixNum(name, "modrange-", modRangeSlotDefault)
		return newDivMod(1, slot, slot/shards, shards, true, log)
	case strings.HasPrefix(name, "slotmod-"):
		slot := suffixNum(name, "slotmod-", slotModDefault)
		return newDivMod(1, min(slot, shards), 1, shards, false, log)
	case strings.HasPrefix(name, "splitmod-"):
		split := suffixNum(name, "splitmod-", splitModDefault)
		return newDivMod(split, min(split, shards), 1, shards, false, log)
	}
	if log != nil {
		log.Warnf("sharding: unknown distribution %q, falling back to modula", name)
	}
	return NewModula(shards, false)
}

func suffixNum(name, prefix string, def int) int {
	if !strings.HasPrefix(name, prefix) {
		return def
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Sharding bundles a hasher and a distribution: key bytes in, shard out.
type Sharding struct {
	hasher hash.Hasher
	dist   Distribute
}

// NewSharding builds the pair from config names.
func NewSharding(hashName, distName string, names []string, log *zap.SugaredLogger) *Sharding {
	return &Sharding{
		hasher: hash.From(hashName, log),
		dist:   From(distName, names, log),
	}
}

// Index returns the shard index for a key.
func (s *Sharding) Index(key hash.Key) int {
	return s.dist.Index(s.hasher.Hash(key))
}

// Hash exposes the underlying hasher.
func (s *Sharding) Hash(key hash.Key) int64 { return s.hasher.Hash(key) }

// Dist exposes the underlying distribution.
func (s *Sharding) Dist() Distribute { return s.dist }
