package discovery

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Sig identifies one published config version: a digest of the content and
// the id of the provider that served it. Digest equality decides NotChanged.
type Sig struct {
	Digest   [16]byte
	Provider string
}

// NewSig builds a signature.
func NewSig(digest [16]byte, provider string) Sig {
	return Sig{Digest: digest, Provider: provider}
}

// Serialize renders "<base58(digest)> <provider>".
func (s Sig) Serialize() string {
	var b strings.Builder
	b.Grow(32 + 1 + len(s.Provider))
	b.WriteString(base58.Encode(s.Digest[:]))
	b.WriteByte(' ')
	b.WriteString(s.Provider)
	return b.String()
}

// ParseSig is the inverse of Serialize. Input without a space is a bare
// digest with an empty provider.
func ParseSig(ser string) (Sig, error) {
	digestPart, provider := ser, ""
	if idx := strings.IndexByte(ser, ' '); idx >= 0 {
		digestPart, provider = ser[:idx], ser[idx+1:]
	}
	raw, err := base58.Decode(digestPart)
	if err != nil {
		return Sig{}, fmt.Errorf("invalid signature digest: %w", err)
	}
	if len(raw) != 16 {
		return Sig{}, fmt.Errorf("invalid signature digest length %d", len(raw))
	}
	var s Sig
	copy(s.Digest[:], raw)
	s.Provider = provider
	return s, nil
}
