// Package memcache implements the memcached binary and text protocols. The
// two dialects share one parser: binary frames announce themselves with the
// 0x80 magic, everything else is parsed as text.
package memcache

import (
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

func init() {
	protocol.Register("mc", Parser{})
	protocol.Register("memcache", Parser{})
}

// Parser dispatches between the binary and text state machines frame by
// frame, so mixed traffic on one connection keeps working.
type Parser struct{}

func (Parser) Name() string { return "memcache" }

func (p Parser) ParseRequest(s protocol.Stream, alg hash.Hasher, proc protocol.Proc) error {
	for {
		data := s.Slice()
		if data.Len() == 0 {
			return nil
		}
		var (
			consumed bool
			err      error
		)
		if data.At(0) == magicRequest {
			consumed, err = parseBinRequest(s, alg, proc)
		} else {
			consumed, err = parseTextRequest(s, alg, proc)
		}
		if err != nil || !consumed {
			return err
		}
	}
}

func (p Parser) ParseResponse(s protocol.Stream) (*protocol.Command, error) {
	data := s.Slice()
	if data.Len() == 0 {
		return nil, nil
	}
	if data.At(0) == magicResponse {
		return parseBinResponse(s)
	}
	return parseTextResponse(s)
}

func (p Parser) WriteRequest(req *protocol.HashedCommand, w protocol.Writer) error {
	return w.WriteSlice(req.Data)
}

func (p Parser) WriteResponse(req *protocol.HashedCommand, resp *protocol.Command, w protocol.Writer) error {
	if req.Data.Len() > 0 && req.Data.At(0) == magicRequest {
		return writeBinResponse(req, resp, w)
	}
	return writeTextResponse(req, resp, w)
}
