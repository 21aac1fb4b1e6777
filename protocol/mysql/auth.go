package mysql

import "crypto/sha1"

// nativePassword computes the mysql_native_password scramble:
// SHA1(password) XOR SHA1(nonce + SHA1(SHA1(password))).
//
// The RSA-based caching_sha2 exchange stays behind the Authenticator
// interface; backends requiring it get a typed refusal instead of a silent
// downgrade.
func nativePassword(password string, nonce []byte) []byte {
	if password == "" {
		return nil
	}
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(nonce)
	h.Write(stage2[:])
	token := h.Sum(nil)

	for i := range token {
		token[i] ^= stage1[i]
	}
	return token
}

// Authenticator produces the auth token for a server-chosen plugin.
// mysql_native_password is built in; anything else is a collaborator
// concern.
type Authenticator interface {
	// Token returns the auth response for the plugin, or ok=false when the
	// plugin is not supported.
	Token(plugin string, password string, nonce []byte) (token []byte, ok bool)
}

type nativeAuth struct{}

func (nativeAuth) Token(plugin, password string, nonce []byte) ([]byte, bool) {
	if plugin != "" && plugin != "mysql_native_password" {
		return nil, false
	}
	return nativePassword(password, nonce), true
}
