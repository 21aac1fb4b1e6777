package redis

import (
	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/protocol"
)

// BuildRepair turns a layer hit into the set that repairs the layers above:
// the key comes from the original get frame, the value from the bulk reply.
func (p Parser) BuildRepair(req *protocol.HashedCommand, resp *protocol.Command) (*protocol.HashedCommand, bool) {
	key, ok := requestKey(req.Data)
	if !ok {
		return nil, false
	}
	val, ok := bulkPayload(resp.Data)
	if !ok {
		return nil, false
	}
	cmd := protocol.NewCommand(buildSet(key, val), protocol.OpStore, req.Hash)
	cmd.SetWriteBack(true)
	return &cmd, true
}

// requestKey extracts the second bulk of a request frame.
func requestKey(data ring.Slice) (ring.Slice, bool) {
	if data.Len() == 0 || data.At(0) != '*' {
		return ring.Slice{}, false
	}
	n, oft, st := parseNum(data, 1)
	if st != stOK || n < 2 {
		return ring.Slice{}, false
	}
	for i := 0; i < 2; i++ {
		if oft >= data.Len() || data.At(oft) != '$' {
			return ring.Slice{}, false
		}
		l, next, st := parseNum(data, oft+1)
		if st != stOK || l < 0 {
			return ring.Slice{}, false
		}
		if i == 1 {
			return data.SubSlice(next, int(l)), true
		}
		oft = next + int(l) + 2
	}
	return ring.Slice{}, false
}

// bulkPayload extracts the payload of a non-nil bulk reply.
func bulkPayload(data ring.Slice) (ring.Slice, bool) {
	if data.Len() == 0 || data.At(0) != '$' {
		return ring.Slice{}, false
	}
	l, next, st := parseNum(data, 1)
	if st != stOK || l < 0 {
		return ring.Slice{}, false
	}
	return data.SubSlice(next, int(l)), true
}
