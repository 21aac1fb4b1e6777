// Package discovery feeds topology updates from a configuration registry
// into the data path. The registry client itself (the vintage HTTP API) sits
// behind the Discover interface; this package owns the polling, change
// detection and snapshot republishing around it.
package discovery

import (
	"context"
	"crypto/md5"
)

// Kind discriminates a lookup result.
type Kind uint8

const (
	// NotFound: the path does not exist on the provider.
	NotFound Kind = iota
	// NotChanged: the content still matches the signature the caller sent.
	NotChanged
	// Changed: new content, carried in the result.
	Changed
)

// Result is one service lookup outcome.
type Result struct {
	Kind Kind
	Sig  Sig
	Body []byte
}

// Discover is a configuration registry client. name is a path like
// "config/v1/cache/feed.content"; sig is the serialized signature of the
// version the caller already holds.
type Discover interface {
	GetService(ctx context.Context, name string, sig string) (Result, error)
}

// Fixed serves static content from memory: unit tests and file-based
// deployments with no registry.
type Fixed struct {
	services map[string][]byte
}

// NewFixed creates an empty fixed registry.
func NewFixed() *Fixed {
	return &Fixed{services: map[string][]byte{}}
}

// Set installs content for a service name.
func (f *Fixed) Set(name string, body []byte) {
	f.services[name] = body
}

func (f *Fixed) GetService(_ context.Context, name string, sig string) (Result, error) {
	body, ok := f.services[name]
	if !ok {
		return Result{Kind: NotFound}, nil
	}
	cur := Sig{Digest: md5.Sum(body), Provider: "fixed"}
	if prev, err := ParseSig(sig); err == nil && prev.Digest == cur.Digest {
		return Result{Kind: NotChanged}, nil
	}
	return Result{Kind: Changed, Sig: cur, Body: body}, nil
}
