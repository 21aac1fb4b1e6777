// Package redis implements the RESP2 state machine for clients and upstream
// redis servers. Frames are sliced off the connection ring without copying;
// only synthesized fan-out sub-requests own their bytes.
package redis

import (
	"fmt"
	"strconv"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

func init() {
	protocol.Register("eredis", Parser{})
	protocol.Register("redis", Parser{})
	// Phantom speaks the same dialect with a bloom-filter command set; the
	// framing and routing rules are identical.
	protocol.Register("phantom", Parser{})
}

// Parser is the RESP2 protocol implementation. It is stateless; see the
// Context layout below for per-request state.
type Parser struct{}

func (Parser) Name() string { return "redis" }

var (
	errInvalid     = &protocol.RequestInvalidError{Wire: []byte("-ERR request invalid\r\n")}
	errInvalidStar = &protocol.RequestInvalidError{Wire: []byte("-ERR request invalid star\r\n")}
	errInvalidNum  = &protocol.RequestInvalidError{Wire: []byte("-ERR request invalid num\r\n")}
	errNoReturn    = &protocol.RequestInvalidError{Wire: []byte("-ERR request missing return\r\n")}
	errUnsupported = &protocol.RequestInvalidError{Wire: []byte("-ERR unsupported command\r\n")}
)

// The request Context word packs, low to high: sub-request index (16 bits),
// fan-out total (16 bits), command table index (8 bits).
func packCtx(sub, total int, tableIdx uint8) uint64 {
	return uint64(sub) | uint64(total)<<16 | uint64(tableIdx)<<32
}

func ctxTotal(ctx uint64) int   { return int(ctx >> 16 & 0xffff) }
func ctxTable(ctx uint64) uint8 { return uint8(ctx >> 32) }

// metaMax bounds how far we search for the CRLF of a length line before
// declaring the request malformed rather than incomplete.
const metaMax = 32

// token locates one bulk argument inside the frame.
type token struct {
	pos int // first payload byte
	len int // payload length
}

func lowerToken(frame ring.Slice, t token) []byte {
	out := make([]byte, t.len)
	for i := 0; i < t.len; i++ {
		c := frame.At(t.pos + i)
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func (p Parser) ParseRequest(s protocol.Stream, alg hash.Hasher, proc protocol.Proc) error {
	for {
		data := s.Slice()
		if data.Len() == 0 {
			return nil
		}
		if data.At(0) != '*' {
			// Inline commands are not proxied: without a bulk count the
			// frame boundary depends on full command knowledge.
			return errInvalidStar
		}
		n, oft, st := parseNum(data, 1)
		switch st {
		case stPartial:
			if data.Len() > metaMax {
				return errInvalidNum
			}
			return nil
		case stInvalid:
			return errInvalidNum
		}
		if n <= 0 {
			return errInvalid
		}

		tokens := make([]token, 0, n)
		complete := true
		for i := int64(0); i < n; i++ {
			if oft >= data.Len() {
				complete = false
				break
			}
			if data.At(oft) != '$' {
				return errInvalid
			}
			l, next, st := parseNum(data, oft+1)
			if st == stPartial {
				if data.Len()-oft > metaMax {
					return errInvalidNum
				}
				complete = false
				break
			}
			if st == stInvalid || l < 0 {
				return errInvalidNum
			}
			end := next + int(l) + 2
			if end > data.Len() {
				complete = false
				break
			}
			if data.At(end-2) != '\r' || data.At(end-1) != '\n' {
				return errNoReturn
			}
			tokens = append(tokens, token{pos: next, len: int(l)})
			oft = end
		}
		if !complete {
			return nil
		}

		frame := s.Take(oft)
		if err := p.emit(frame, tokens, alg, proc); err != nil {
			return err
		}
	}
}

func (p Parser) emit(frame ring.Slice, tokens []token, alg hash.Hasher, proc protocol.Proc) error {
	name := lowerToken(frame, tokens[0])
	idx, props, ok := lookup(name)
	if !ok {
		return errUnsupported
	}

	if props.noForward {
		cmd := protocol.NewCommand(frame, props.op, 0)
		cmd.SetNoForward(true)
		cmd.Context = packCtx(0, 1, idx)
		cmd.FrameLen = frame.Len()
		return proc(&cmd)
	}

	if props.multi {
		return p.emitMulti(frame, tokens, idx, props, alg, proc)
	}

	if len(tokens) <= props.keyIdx {
		return errInvalid
	}
	key := frame.SubSlice(tokens[props.keyIdx].pos, tokens[props.keyIdx].len)
	cmd := protocol.NewCommand(frame, props.op, alg.Hash(key))
	cmd.Context = packCtx(0, 1, idx)
	cmd.FrameLen = frame.Len()
	cmd.SetTryNext(props.op.IsRetrieval())
	cmd.SetSentinel(props.op == protocol.OpGet)
	return proc(&cmd)
}

// emitMulti fans mget/mset into one sub-request per key (or key/value pair).
// Sub-requests own their bytes; the ingress frame is retired by the last sub.
func (p Parser) emitMulti(frame ring.Slice, tokens []token, idx uint8, props *cmdProps, alg hash.Hasher, proc protocol.Proc) error {
	args := tokens[props.keyIdx:]
	if len(args) == 0 || len(args)%props.keyStep != 0 {
		return errInvalid
	}
	total := len(args) / props.keyStep

	for i := 0; i < total; i++ {
		key := args[i*props.keyStep]
		keyView := frame.SubSlice(key.pos, key.len)

		var sub protocol.HashedCommand
		if props.keyStep == 1 {
			sub = protocol.NewCommand(
				buildGet(keyView), protocol.OpMGet, alg.Hash(keyView))
			sub.SetTryNext(true)
			sub.SetSentinel(true)
		} else {
			val := args[i*props.keyStep+1]
			sub = protocol.NewCommand(
				buildSet(keyView, frame.SubSlice(val.pos, val.len)),
				protocol.OpStore, alg.Hash(keyView))
		}
		sub.Context = packCtx(i, total, idx)
		sub.SetFirst(i == 0)
		if i == total-1 {
			sub.SetLast(true)
			sub.FrameLen = frame.Len()
		}
		if err := proc(&sub); err != nil {
			return err
		}
	}
	return nil
}

func buildGet(key ring.Slice) ring.Slice {
	buf := make([]byte, 0, 32+key.Len())
	buf = append(buf, "*2\r\n$3\r\nget\r\n$"...)
	buf = strconv.AppendInt(buf, int64(key.Len()), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, key.Bytes()...)
	buf = append(buf, '\r', '\n')
	return ring.Own(buf)
}

func buildSet(key, val ring.Slice) ring.Slice {
	buf := make([]byte, 0, 48+key.Len()+val.Len())
	buf = append(buf, "*3\r\n$3\r\nset\r\n$"...)
	buf = strconv.AppendInt(buf, int64(key.Len()), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, key.Bytes()...)
	buf = append(buf, "\r\n$"...)
	buf = strconv.AppendInt(buf, int64(val.Len()), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, val.Bytes()...)
	buf = append(buf, '\r', '\n')
	return ring.Own(buf)
}

func (p Parser) ParseResponse(s protocol.Stream) (*protocol.Command, error) {
	data := s.Slice()
	if data.Len() == 0 {
		return nil, nil
	}
	end, ok, err := parseValue(data, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	frame := s.Take(end)
	cmd := &protocol.Command{
		Data: frame,
		OK:   frame.At(0) != '-',
		Miss: isNil(frame),
	}
	return cmd, nil
}

func isNil(frame ring.Slice) bool {
	return frame.Len() >= 5 &&
		(frame.At(0) == '$' || frame.At(0) == '*') &&
		frame.At(1) == '-' && frame.At(2) == '1'
}

// parseValue returns the end offset of the RESP value at oft, ok=false when
// the frame is still incomplete.
func parseValue(data ring.Slice, oft int) (end int, ok bool, err error) {
	if oft >= data.Len() {
		return 0, false, nil
	}
	marker := data.At(oft)
	switch marker {
	case '+', '-', ':':
		crlf := data.FindCRLF(oft + 1)
		if crlf < 0 {
			return 0, false, nil
		}
		return crlf + 2, true, nil
	case '$':
		l, next, st := parseNum(data, oft+1)
		if st == stPartial {
			return 0, false, nil
		}
		if st == stInvalid {
			return 0, false, protocol.ErrResponseInvalid
		}
		if l < 0 {
			return next, true, nil
		}
		end := next + int(l) + 2
		if end > data.Len() {
			return 0, false, nil
		}
		return end, true, nil
	case '*':
		n, next, st := parseNum(data, oft+1)
		if st == stPartial {
			return 0, false, nil
		}
		if st == stInvalid {
			return 0, false, protocol.ErrResponseInvalid
		}
		if n < 0 {
			return next, true, nil
		}
		oft = next
		for i := int64(0); i < n; i++ {
			end, ok, err := parseValue(data, oft)
			if !ok || err != nil {
				return 0, false, err
			}
			oft = end
		}
		return oft, true, nil
	default:
		return 0, false, protocol.ErrResponseInvalid
	}
}

func (p Parser) WriteRequest(req *protocol.HashedCommand, w protocol.Writer) error {
	return w.WriteSlice(req.Data)
}

func (p Parser) WriteResponse(req *protocol.HashedCommand, resp *protocol.Command, w protocol.Writer) error {
	props := &cmdTable[ctxTable(req.Context)]

	if req.NoForward() {
		_, err := w.Write([]byte(props.canned))
		return err
	}

	if props.multi {
		return p.writeMulti(req, resp, props, w)
	}

	if resp == nil {
		return protocol.ErrNoResponseFound
	}
	return w.WriteSlice(resp.Data)
}

var nilBulk = []byte("$-1\r\n")

func (p Parser) writeMulti(req *protocol.HashedCommand, resp *protocol.Command, props *cmdProps, w protocol.Writer) error {
	if props.keyStep == 2 {
		// mset: one +OK once the whole group has been applied.
		if !req.Last() {
			return nil
		}
		_, err := w.Write([]byte("+OK\r\n"))
		return err
	}

	// mget: the array header rides on the first sub-response, then each
	// sub-response contributes its bulk in client key order.
	if req.First() {
		header := fmt.Sprintf("*%d\r\n", ctxTotal(req.Context))
		if _, err := w.Write([]byte(header)); err != nil {
			return err
		}
	}
	if resp == nil || !resp.OK {
		_, err := w.Write(nilBulk)
		return err
	}
	return w.WriteSlice(resp.Data)
}
