package memcache

import (
	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

const (
	magicRequest  = 0x80
	magicResponse = 0x81
	headerLen     = 24
)

// Binary opcodes.
const (
	opGet     = 0x00
	opSet     = 0x01
	opAdd     = 0x02
	opReplace = 0x03
	opDelete  = 0x04
	opIncr    = 0x05
	opDecr    = 0x06
	opQuit    = 0x07
	opFlush   = 0x08
	opGetQ    = 0x09
	opNoop    = 0x0a
	opVersion = 0x0b
	opGetK    = 0x0c
	opGetKQ   = 0x0d
	opAppend  = 0x0e
	opPrepend = 0x0f
	opStat    = 0x10
	opSetQ    = 0x11
	opAddQ    = 0x12
	opTouch   = 0x1c
)

const statusKeyNotFound = 0x0001

var errBinInvalid = &protocol.RequestInvalidError{
	Wire: []byte("CLIENT_ERROR request invalid\r\n"),
}

// The binary request Context word packs, low to high: the client's original
// opcode (8 bits), quiet-group member flag (1 bit).
func packBinCtx(opcode byte, quiet bool) uint64 {
	v := uint64(opcode)
	if quiet {
		v |= 1 << 8
	}
	return v
}

func binCtxOpcode(ctx uint64) byte { return byte(ctx) }
func binCtxQuiet(ctx uint64) bool  { return ctx>>8&1 != 0 }

func binOperation(opcode byte) (protocol.Operation, bool) {
	switch opcode {
	case opGet, opGetK, opGetQ, opGetKQ:
		return protocol.OpGet, true
	case opSet, opAdd, opReplace, opDelete, opIncr, opDecr,
		opAppend, opPrepend, opSetQ, opAddQ, opTouch:
		return protocol.OpStore, true
	case opVersion, opStat, opFlush, opNoop:
		return protocol.OpMeta, true
	case opQuit:
		return protocol.OpQuit, true
	}
	return protocol.OpOther, false
}

// parseBinRequest slices one binary frame off the stream. Quiet gets are
// de-quieted on the way to the backend (a GetKQ miss produces no response,
// which would desynchronize FIFO matching) and re-quieted on the way back.
func parseBinRequest(s protocol.Stream, alg hash.Hasher, proc protocol.Proc) (bool, error) {
	data := s.Slice()
	if data.Len() < headerLen {
		return false, nil
	}
	bodyLen := int(data.U32(8))
	total := headerLen + bodyLen
	if data.Len() < total {
		return false, nil
	}
	opcode := data.At(1)
	keyLen := int(data.U16(2))
	extrasLen := int(data.At(4))
	if keyLen+extrasLen > bodyLen {
		return false, errBinInvalid
	}
	op, known := binOperation(opcode)
	if !known {
		return false, errBinInvalid
	}

	frame := s.Take(total)

	var h int64
	if keyLen > 0 {
		h = alg.Hash(frame.SubSlice(headerLen+extrasLen, keyLen))
	}

	quiet := opcode == opGetQ || opcode == opGetKQ
	sent := frame
	if quiet {
		// Rewrite the opcode in place of a copied frame: GetQ->Get,
		// GetKQ->GetK.
		raw := frame.Bytes()
		raw[1] = opcode - opGetQ + opGet
		if opcode == opGetKQ {
			raw[1] = opGetK
		}
		sent = ring.Own(raw)
	}

	cmd := protocol.NewCommand(sent, op, h)
	cmd.Context = packBinCtx(opcode, quiet)
	cmd.FrameLen = frame.Len()
	switch opcode {
	case opNoop, opVersion:
		cmd.SetNoForward(true)
	case opQuit:
		cmd.SetNoForward(true)
	}
	if op == protocol.OpGet {
		cmd.SetTryNext(true)
		cmd.SetSentinel(true)
	}
	return true, proc(&cmd)
}

func parseBinResponse(s protocol.Stream) (*protocol.Command, error) {
	data := s.Slice()
	if data.Len() < headerLen {
		return nil, nil
	}
	if data.At(0) != magicResponse {
		return nil, protocol.ErrResponseInvalid
	}
	total := headerLen + int(data.U32(8))
	if data.Len() < total {
		return nil, nil
	}
	frame := s.Take(total)
	status := frame.U16(6)
	return &protocol.Command{
		Data: frame,
		OK:   status == 0,
		Miss: status == statusKeyNotFound,
	}, nil
}

func writeBinResponse(req *protocol.HashedCommand, resp *protocol.Command, w protocol.Writer) error {
	opcode := binCtxOpcode(req.Context)

	if req.NoForward() {
		return writeBinLocal(opcode, w)
	}
	if resp == nil {
		return protocol.ErrNoResponseFound
	}
	if binCtxQuiet(req.Context) {
		// Quiet semantics: a miss is silence; a hit goes back under the
		// client's original opcode.
		if resp.Miss {
			return nil
		}
		header := make([]byte, headerLen)
		resp.Data.CopyTo(header)
		header[1] = opcode
		if _, err := w.Write(header); err != nil {
			return err
		}
		if resp.Data.Len() > headerLen {
			return w.WriteSlice(resp.Data.SubSlice(headerLen, resp.Data.Len()-headerLen))
		}
		return nil
	}
	return w.WriteSlice(resp.Data)
}

// writeBinLocal answers the opcodes the agent handles itself.
func writeBinLocal(opcode byte, w protocol.Writer) error {
	var body []byte
	if opcode == opVersion {
		body = []byte("1.6.0")
	}
	header := make([]byte, headerLen)
	header[0] = magicResponse
	header[1] = opcode
	header[8] = byte(len(body) >> 24)
	header[9] = byte(len(body) >> 16)
	header[10] = byte(len(body) >> 8)
	header[11] = byte(len(body))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(body) > 0 {
		_, err := w.Write(body)
		return err
	}
	return nil
}
