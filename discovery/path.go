package discovery

import (
	"path/filepath"
	"strings"
)

// Socket files encode the service in their name:
//
//	/tmp/mesh/socks/config+v1+cache+feed.content:user@mc@vintage.sock
//
// '+' substitutes for '/' in the config path; the part after the last '+' is
// "biz@resource@discovery", where biz keeps only what follows ':'.

// ParseSocketName splits a socket path into (biz, resource, discovery).
// ok is false when the name does not follow the scheme.
func ParseSocketName(path string) (biz, resource, discovery string, ok bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".sock")
	base = filepath.Base(strings.ReplaceAll(base, "+", "/"))

	fields := strings.Split(base, "@")
	if len(fields) != 3 {
		return "", "", "", false
	}
	biz = fields[0]
	if idx := strings.IndexByte(biz, ':'); idx >= 0 {
		biz = biz[idx+1:]
	}
	return biz, fields[1], fields[2], true
}

// ServiceName is a discovery path: '+' restored to '/', an optional
// ':namespace' suffix excluded from the path.
type ServiceName struct {
	name string
}

// NewServiceName normalizes a raw service name.
func NewServiceName(name string) ServiceName {
	return ServiceName{name: strings.ReplaceAll(name, "+", "/")}
}

// Name returns the normalized full name.
func (s ServiceName) Name() string { return s.name }

// Path returns the discovery lookup path, without the namespace suffix.
func (s ServiceName) Path() string {
	if idx := strings.IndexByte(s.name, ':'); idx >= 0 {
		return s.name[:idx]
	}
	return s.name
}
