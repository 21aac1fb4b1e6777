// Package hash maps routing keys to 64-bit signed hashes.
//
// The algorithm set is closed and every variant must stay bit-identical to
// the legacy client stacks that wrote the data being served: changing a
// single constant here silently reshuffles every key of every service using
// that dialect.
package hash

import (
	"strings"

	"go.uber.org/zap"
)

// Key is a random-access view over key bytes. Both plain byte slices and ring
// views satisfy it, so hashing never forces a copy out of the ingress ring.
type Key interface {
	Len() int
	At(i int) byte
}

// Bytes adapts a byte slice to Key.
type Bytes []byte

func (b Bytes) Len() int       { return len(b) }
func (b Bytes) At(i int) byte  { return b[i] }
func (b Bytes) String() string { return string(b) }

// Hasher computes a signed 64-bit hash of a key.
type Hasher interface {
	Hash(key Key) int64
}

// Named is implemented by hashers that remember their config name.
type Named interface {
	Name() string
}

// From builds a hasher from its configuration name. Unrecognized names fall
// back to crc32, matching the forgiving behavior services rely on when a new
// dialect name reaches an old agent; the fallback is reported through log.
// A nil log discards it.
func From(name string, log *zap.SugaredLogger) Hasher {
	switch name {
	case "bkdr":
		return Bkdr{}
	case "bkdrsub":
		return Bkdrsub{}
	case "bkdrabscrc32":
		return BkdrAbsCrc32{}
	case "fnv1a-64", "fnv1a_64":
		return Fnv1a64{}
	case "raw":
		return Raw{}
	case "rawcrc32local":
		return RawCrc32local{}
	case "random":
		return Random{}
	case "padding":
		return Padding{}
	case "crc32":
		return Crc32{}
	case "crc32local":
		return Crc32local{}
	}
	switch {
	case strings.HasPrefix(name, "crc32-"):
		if h, ok := newCrc32Dialect(name, false); ok {
			return h
		}
	case strings.HasPrefix(name, "crc32local-"):
		if h, ok := newCrc32Dialect(name, true); ok {
			return h
		}
	case strings.HasPrefix(name, "rawsuffix-"):
		if d, ok := delimiterOf(name[len("rawsuffix-"):]); ok {
			return RawSuffix{name: name, delimiter: d}
		}
	case strings.HasPrefix(name, "lbcrc32local"):
		return LBCrc32local{name: name}
	}
	if log != nil {
		log.Warnf("hash: unknown algorithm %q, falling back to crc32", name)
	}
	return Crc32{}
}

// delimiterOf resolves the delimiter part of a hasher name. Single characters
// stand for themselves; a few spellings exist for characters that cannot
// appear in a config token.
func delimiterOf(s string) (byte, bool) {
	if len(s) == 1 {
		return s[0], true
	}
	switch s {
	case "underscore":
		return '_', true
	case "pound":
		return '#', true
	case "dot":
		return '.', true
	}
	return 0, false
}
