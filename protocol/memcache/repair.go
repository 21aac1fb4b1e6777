package memcache

import (
	"strconv"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/protocol"
)

// BuildRepair synthesizes the set that refreshes an upper cache layer from a
// lower-layer hit, for both wire dialects.
func (p Parser) BuildRepair(req *protocol.HashedCommand, resp *protocol.Command) (*protocol.HashedCommand, bool) {
	if req.Data.Len() == 0 {
		return nil, false
	}
	if req.Data.At(0) == magicRequest {
		return binRepair(req, resp)
	}
	return textRepair(req, resp)
}

func binRepair(req *protocol.HashedCommand, resp *protocol.Command) (*protocol.HashedCommand, bool) {
	reqData, respData := req.Data, resp.Data
	if respData.Len() < headerLen {
		return nil, false
	}
	keyLen := int(reqData.U16(2))
	keyOff := headerLen + int(reqData.At(4))
	if keyLen == 0 || reqData.Len() < keyOff+keyLen {
		return nil, false
	}
	respExtras := int(respData.At(4))
	valOff := headerLen + respExtras + int(respData.U16(2))
	valLen := respData.Len() - valOff
	if valLen < 0 {
		return nil, false
	}

	// Flags ride in the response extras; exptime resets to 0.
	var flags [4]byte
	if respExtras >= 4 {
		respData.SubSlice(headerLen, 4).CopyTo(flags[:])
	}

	bodyLen := 8 + keyLen + valLen
	out := make([]byte, 0, headerLen+bodyLen)
	header := make([]byte, headerLen)
	header[0] = magicRequest
	header[1] = opSet
	header[2] = byte(keyLen >> 8)
	header[3] = byte(keyLen)
	header[4] = 8
	header[8] = byte(bodyLen >> 24)
	header[9] = byte(bodyLen >> 16)
	header[10] = byte(bodyLen >> 8)
	header[11] = byte(bodyLen)
	out = append(out, header...)
	out = append(out, flags[:]...)
	out = append(out, 0, 0, 0, 0) // exptime
	out = append(out, reqData.SubSlice(keyOff, keyLen).Bytes()...)
	if valLen > 0 {
		out = append(out, respData.SubSlice(valOff, valLen).Bytes()...)
	}

	cmd := protocol.NewCommand(ring.Own(out), protocol.OpStore, req.Hash)
	cmd.SetWriteBack(true)
	return &cmd, true
}

func textRepair(req *protocol.HashedCommand, resp *protocol.Command) (*protocol.HashedCommand, bool) {
	data := resp.Data
	eol := data.FindCRLF(0)
	if eol < 0 || !data.StartsWith(0, []byte("VALUE")) {
		return nil, false
	}
	words := splitLine(data, eol)
	if len(words) < 4 {
		return nil, false
	}
	n, ok := wordUint(data, words[3])
	if !ok || data.Len() < eol+2+int(n)+2 {
		return nil, false
	}

	key := data.SubSlice(words[1].pos, words[1].len)
	flags := data.SubSlice(words[2].pos, words[2].len)
	val := data.SubSlice(eol+2, int(n))

	out := make([]byte, 0, 32+key.Len()+val.Len())
	out = append(out, "set "...)
	out = append(out, key.Bytes()...)
	out = append(out, ' ')
	out = append(out, flags.Bytes()...)
	out = append(out, " 0 "...)
	out = strconv.AppendUint(out, n, 10)
	out = append(out, '\r', '\n')
	out = append(out, val.Bytes()...)
	out = append(out, '\r', '\n')

	cmd := protocol.NewCommand(ring.Own(out), protocol.OpStore, req.Hash)
	cmd.SetWriteBack(true)
	return &cmd, true
}
