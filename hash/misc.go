package hash

import "math/rand/v2"

// Random ignores the key entirely: multi-write/random-read services spread
// load instead of routing it. The range stays within uint32 like the other
// dialects.
type Random struct{}

func (Random) Hash(Key) int64 {
	return int64(rand.Uint32())
}

func (Random) Name() string { return "random" }

// Padding is the explicit no-hash: always 0. Used by single-shard services
// where computing anything would be noise.
type Padding struct{}

func (Padding) Hash(Key) int64 { return 0 }

func (Padding) Name() string { return "padding" }
