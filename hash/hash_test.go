package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weibocom/breeze-sub003/ds/ring"
)

var nopLog = zap.NewNop().Sugar()

// Golden values recorded from the legacy client stacks. These pins are the
// compatibility contract: a failure here means stored data becomes
// unreachable, not that the test is stale.
func TestGoldenValues(t *testing.T) {
	cases := []struct {
		alg  string
		key  string
		want int64
	}{
		{"bkdr", "user:42", 147170163},
		{"bkdr", "hello", 99162322},
		{"bkdr", "12345", 46792755},
		{"bkdrsub", "abc#99_x", 7524},
		{"bkdrabscrc32", "12345xyz", 2514238158},
		{"crc32", "user:42", 1684999558},
		{"crc32", "hello", 907060870},
		{"crc32", "12345", 3421846044},
		{"crc32local", "12345", 873121252},
		{"crc32local", "abc#99_x", 1473258751},
		{"crc32-short", "123_456", 2286445522}, // crc32("123")
		{"crc32-pound", "abc#99_x", 274208589}, // crc32("99")
		{"crc32-num-2", "12345", 1330857165},   // crc32("12")
		{"fnv1a-64", "user:42", 3704758722},
		{"fnv1a-64", "hello", 2158673163},
		{"raw", "12345", 12345},
		{"raw", "42abc", 42},
		{"rawsuffix-_", "feed_991", 991},
		{"rawsuffix-_", "feed991", 0},
		{"rawsuffix-_", "feed_99x", 0},
		{"rawcrc32local", "777_suffix", 777},
		{"rawcrc32local", "uid_777", 91929033}, // crc32local of the whole key
		{"lbcrc32local", "4379_abc", 1130482283},
		{"padding", "whatever", 0},
	}

	for _, c := range cases {
		h := From(c.alg, nopLog)
		assert.Equal(t, c.want, h.Hash(Bytes(c.key)), "%s(%q)", c.alg, c.key)
	}
}

func TestEmptyKeyHashesToZero(t *testing.T) {
	for _, alg := range []string{
		"bkdr", "bkdrsub", "bkdrabscrc32", "crc32", "crc32local",
		"crc32-short", "crc32-pound", "crc32-num-4", "fnv1a-64",
		"raw", "rawsuffix-_", "lbcrc32local", "padding",
	} {
		h := From(alg, nopLog)
		assert.Zero(t, h.Hash(Bytes(nil)), "alg %s", alg)
	}
}

func TestRandomRange(t *testing.T) {
	h := From("random", nopLog)
	for i := 0; i < 100; i++ {
		v := h.Hash(Bytes("k"))
		require.GreaterOrEqual(t, v, int64(0))
		require.LessOrEqual(t, v, int64(1)<<32-1)
	}
}

func TestBkdrNegativeWrap(t *testing.T) {
	// A key long enough to overflow the 32-bit accumulator negative: the
	// result must be the absolute value, still in int32 range.
	v := Bkdr{}.Hash(Bytes("this-key-overflows-the-accumulator"))
	assert.GreaterOrEqual(t, v, int64(0))
	assert.LessOrEqual(t, v, int64(1)<<31)
}

func TestUnknownFallsBackToCrc32(t *testing.T) {
	h := From("definitely-not-a-dialect", nopLog)
	assert.Equal(t, Crc32{}.Hash(Bytes("k")), h.Hash(Bytes("k")))
}

func TestFactoryNames(t *testing.T) {
	for _, alg := range []string{"bkdr", "crc32-short", "rawsuffix-_", "crc32local-num-3"} {
		h := From(alg, nopLog)
		named, ok := h.(Named)
		require.True(t, ok, alg)
		assert.Equal(t, alg, named.Name())
	}
}

func TestKeyViews(t *testing.T) {
	// Hashing reads keys through the Key interface, so a ring view that
	// wraps must hash identically to a flat copy of the same bytes.
	b := ring.New(8)
	b.Write([]byte("01234"))
	require.True(t, b.Consume(5))
	b.Write([]byte("user:42"))
	view := b.Readable()

	for _, alg := range []string{"bkdr", "crc32", "fnv1a-64", "crc32local"} {
		h := From(alg, nopLog)
		assert.Equal(t, h.Hash(Bytes("user:42")), h.Hash(view), alg)
	}
}

// rawcrc32local returns the numeric value even when the digits stop mid-key
// at the delimiter, and 0 for keys that start with the delimiter.
func TestRawCrc32localDelimiterEdge(t *testing.T) {
	assert.Equal(t, int64(0), RawCrc32local{}.Hash(Bytes("_abc")))
	assert.Equal(t, int64(12), RawCrc32local{}.Hash(Bytes("12_")))
}
