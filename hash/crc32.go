package hash

import (
	"hash/crc32"
	"strconv"
	"strings"
)

// Crc32 is the standard IEEE CRC-32 over the whole key, widened unsigned.
type Crc32 struct{}

func (Crc32) Hash(key Key) int64 {
	return int64(crc32Sum(key, 0, key.Len()))
}

func (Crc32) Name() string { return "crc32" }

// Crc32local is the same table walk reinterpreted the way the legacy Java
// stack does: the final value is taken as a signed 32-bit integer and its
// absolute value is the hash.
type Crc32local struct{}

func (Crc32local) Hash(key Key) int64 {
	return crc32localFinish(crc32Sum(key, 0, key.Len()))
}

func (Crc32local) Name() string { return "crc32local" }

func crc32Sum(key Key, from, to int) uint32 {
	crc := ^uint32(0)
	table := crc32.IEEETable
	for i := from; i < to; i++ {
		crc = crc>>8 ^ table[byte(crc)^key.At(i)]
	}
	return ^crc
}

func crc32localFinish(sum uint32) int64 {
	v := int64(int32(sum))
	if v < 0 {
		v = -v
	}
	return v
}

// crc32Dialect restricts which key bytes feed the table walk. The sub-key
// selection mirrors the legacy client dialects:
//
//	short:  the leading digit run, terminated by '\r' or '_'
//	pound:  the bytes between '#' and '_' (to the end when '_' is absent)
//	num-N:  the first N bytes of the leading digit run
type crc32Dialect struct {
	name  string
	local bool
	sub   func(Key) (from, to int)
}

func (d crc32Dialect) Hash(key Key) int64 {
	from, to := d.sub(key)
	sum := crc32Sum(key, from, to)
	if d.local {
		return crc32localFinish(sum)
	}
	return int64(sum)
}

func (d crc32Dialect) Name() string { return d.name }

func newCrc32Dialect(name string, local bool) (Hasher, bool) {
	suffix := name[strings.Index(name, "-")+1:]
	switch {
	case suffix == "short":
		return crc32Dialect{name: name, local: local, sub: subShort}, true
	case suffix == "pound":
		return crc32Dialect{name: name, local: local, sub: subPound}, true
	case strings.HasPrefix(suffix, "num-"):
		n, err := strconv.Atoi(suffix[len("num-"):])
		if err != nil || n <= 0 {
			return nil, false
		}
		return crc32Dialect{name: name, local: local, sub: subNum(n)}, true
	}
	return nil, false
}

func subShort(key Key) (int, int) {
	for i := 0; i < key.Len(); i++ {
		c := key.At(i)
		if c == '\r' || c == '_' || c < '0' || c > '9' {
			return 0, i
		}
	}
	return 0, key.Len()
}

func subPound(key Key) (int, int) {
	from := key.Len()
	for i := 0; i < key.Len(); i++ {
		if key.At(i) == '#' {
			from = i + 1
			break
		}
	}
	for i := from; i < key.Len(); i++ {
		if key.At(i) == '_' {
			return from, i
		}
	}
	return from, key.Len()
}

func subNum(n int) func(Key) (int, int) {
	return func(key Key) (int, int) {
		_, end := subShort(key)
		return 0, min(end, n)
	}
}

// LBCrc32local parses the leading decimal digits into an unsigned 64-bit
// value, serializes it big-endian and crc32locals those eight bytes. This
// reproduces Util.crc32(Longs.toByteArray(id)) from the api-commons lineage.
type LBCrc32local struct {
	name string
}

func (h LBCrc32local) Hash(key Key) int64 {
	if key.Len() == 0 {
		return 0
	}
	var id uint64
	for i := 0; i < key.Len(); i++ {
		c := key.At(i)
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	var be [8]byte
	for i := 7; i >= 0; i-- {
		be[i] = byte(id)
		id >>= 8
	}
	return crc32localFinish(crc32Sum(Bytes(be[:]), 0, 8))
}

func (h LBCrc32local) Name() string {
	if h.name == "" {
		return "lbcrc32local"
	}
	return h.name
}
