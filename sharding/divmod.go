package sharding

import (
	"math/bits"
	"sync/atomic"

	"go.uber.org/zap"
)

// DivMod evaluates hash/x%y/z. When x, y and z are all powers of two the
// whole pipeline collapses into shift+mask; otherwise plain 64-bit division
// runs, so slot counts like 750 keep working.
type DivMod struct {
	x, y, z uint64
	shards  int

	pow    bool
	xShift uint
	yMask  uint64
	zShift uint

	// absNeg: negative hashes fold to their absolute value (range and
	// modrange families). The warning fires once per DivMod instance, not per key.
	absNeg bool
	warned atomic.Bool
	log    *zap.SugaredLogger
}

func newDivMod(x, y, z, shards int, absNeg bool, log *zap.SugaredLogger) *DivMod {
	if x < 1 {
		x = 1
	}
	if y < 1 {
		y = 1
	}
	if z < 1 {
		z = 1
	}
	d := &DivMod{
		x: uint64(x), y: uint64(y), z: uint64(z),
		shards: shards,
		absNeg: absNeg,
		log:    log,
	}
	if isPow2(x) && isPow2(y) && isPow2(z) {
		d.pow = true
		d.xShift = uint(bits.TrailingZeros64(d.x))
		d.yMask = d.y - 1
		d.zShift = uint(bits.TrailingZeros64(d.z))
	}
	return d
}

func isPow2(v int) bool { return v > 0 && v&(v-1) == 0 }

func (d *DivMod) Index(hash int64) int {
	if hash < 0 && d.absNeg {
		if d.warned.CompareAndSwap(false, true) && d.log != nil {
			d.log.Warnf("sharding: negative hash %d folded to absolute value", hash)
		}
		if hash == -hash {
			// math.MinInt64 has no positive twin; pin it to zero.
			hash = 0
		} else {
			hash = -hash
		}
	}
	h := uint64(hash)
	var idx uint64
	if d.pow {
		idx = (h >> d.xShift & d.yMask) >> d.zShift
	} else {
		idx = h / d.x % d.y / d.z
	}
	if idx >= uint64(d.shards) {
		// Non-dividing slot counts leave a short tail of slots past the last
		// full shard span; they belong to the last shard.
		idx = uint64(d.shards) - 1
	}
	return int(idx)
}

func (d *DivMod) Shards() int { return d.shards }
