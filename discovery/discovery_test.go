package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigRoundTrip(t *testing.T) {
	var digest [16]byte
	copy(digest[:], "0123456789abcdef")
	sig := NewSig(digest, "vintage-7")

	parsed, err := ParseSig(sig.Serialize())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
}

func TestSigWithoutProvider(t *testing.T) {
	var digest [16]byte
	digest[0] = 0xff
	sig := NewSig(digest, "")

	parsed, err := ParseSig(sig.Serialize())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
}

func TestSigRejectsGarbage(t *testing.T) {
	_, err := ParseSig("not base58 0OIl")
	assert.Error(t, err)

	_, err = ParseSig("abc provider") // decodes, wrong length
	assert.Error(t, err)
}

func TestParseSocketName(t *testing.T) {
	biz, resource, disc, ok := ParseSocketName(
		"/tmp/mesh/socks/config+v1+cache+feed.content:user@mc@vintage.sock")
	require.True(t, ok)
	assert.Equal(t, "user", biz)
	assert.Equal(t, "mc", resource)
	assert.Equal(t, "vintage", disc)

	_, _, _, ok = ParseSocketName("/tmp/odd-name.sock")
	assert.False(t, ok)
}

func TestServiceName(t *testing.T) {
	n := NewServiceName("config+v1+cache+feed.content:user")
	assert.Equal(t, "config/v1/cache/feed.content:user", n.Name())
	assert.Equal(t, "config/v1/cache/feed.content", n.Path())
}

func TestFixedDiscovery(t *testing.T) {
	f := NewFixed()
	f.Set("a/b", []byte("backends: []\n"))

	ctx := context.Background()

	res, err := f.GetService(ctx, "missing", "")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Kind)

	res, err = f.GetService(ctx, "a/b", "")
	require.NoError(t, err)
	require.Equal(t, Changed, res.Kind)
	assert.Equal(t, []byte("backends: []\n"), res.Body)

	// Same signature back: not changed.
	res2, err := f.GetService(ctx, "a/b", res.Sig.Serialize())
	require.NoError(t, err)
	assert.Equal(t, NotChanged, res2.Kind)

	// Content change flips the digest.
	f.Set("a/b", []byte("backends: [x]\n"))
	res3, err := f.GetService(ctx, "a/b", res.Sig.Serialize())
	require.NoError(t, err)
	assert.Equal(t, Changed, res3.Kind)
}

func TestWatchFilter(t *testing.T) {
	f, err := NewWatchFilter([]string{"config/v1/cache/*", "config/v1/mq/feed.*"})
	require.NoError(t, err)
	assert.True(t, f.Match("config/v1/cache/feed.content"))
	assert.True(t, f.Match("config/v1/mq/feed.status"))
	assert.False(t, f.Match("config/v1/kv/feed.content"))

	empty, err := NewWatchFilter(nil)
	require.NoError(t, err)
	assert.True(t, empty.Match("anything"))
}
