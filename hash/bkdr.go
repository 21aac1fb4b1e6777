package hash

import "strconv"

// Bkdr is the classic multiply-by-31 string hash, computed in wrapping 32-bit
// signed arithmetic like the JVM clients that populated the data.
type Bkdr struct{}

func (Bkdr) Hash(key Key) int64 {
	var h int32
	for i := 0; i < key.Len(); i++ {
		h = h*31 + int32(key.At(i))
	}
	if h < 0 {
		h = -h
	}
	return int64(h)
}

func (Bkdr) Name() string { return "bkdr" }

// Bkdrsub hashes only the key bytes between '#' and '_' (to the end when '_'
// is absent), seed 131, masked non-negative. Keys without '#' hash to 0.
type Bkdrsub struct{}

func (Bkdrsub) Hash(key Key) int64 {
	const seed = 131
	var h int32
	started := false
	for i := 0; i < key.Len(); i++ {
		c := key.At(i)
		if !started {
			started = c == '#'
			continue
		}
		if c == '_' {
			break
		}
		h = h*seed + int32(c)
	}
	return int64(h & 0x7fffffff)
}

func (Bkdrsub) Name() string { return "bkdrsub" }

// BkdrAbsCrc32 runs bkdr over the leading digit run, takes the absolute
// value, formats it back to decimal and crc32s that string. Keys without a
// digit prefix hash to 0.
type BkdrAbsCrc32 struct{}

func (BkdrAbsCrc32) Hash(key Key) int64 {
	digits := leadingDigits(key)
	if len(digits) == 0 {
		return 0
	}
	h := Bkdr{}.Hash(Bytes(digits))
	return Crc32{}.Hash(Bytes(strconv.FormatInt(h, 10)))
}

func (BkdrAbsCrc32) Name() string { return "bkdrabscrc32" }

func leadingDigits(key Key) []byte {
	out := make([]byte, 0, key.Len())
	for i := 0; i < key.Len(); i++ {
		c := key.At(i)
		if c < '0' || c > '9' {
			break
		}
		out = append(out, c)
	}
	return out
}
