package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashTag(t *testing.T) {
	plain := From("crc32", nopLog)
	tagged := WithHashTag(plain)

	// {user} collocates with the bare tag content.
	assert.Equal(t, plain.Hash(Bytes("user")), tagged.Hash(Bytes("{user}.profile")))
	assert.Equal(t, plain.Hash(Bytes("user")), tagged.Hash(Bytes("feed.{user}.1")))

	// No tag, empty tag, or unclosed tag hash the whole key.
	for _, k := range []string{"user.profile", "{}user", "{user"} {
		assert.Equal(t, plain.Hash(Bytes(k)), tagged.Hash(Bytes(k)), k)
	}
}

func TestHashTagFirstWins(t *testing.T) {
	plain := From("crc32", nopLog)
	tagged := WithHashTag(plain)
	assert.Equal(t, plain.Hash(Bytes("a")), tagged.Hash(Bytes("{a}{b}")))
}
