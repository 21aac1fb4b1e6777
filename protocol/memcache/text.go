package memcache

import (
	"strconv"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

var (
	errTextInvalid = &protocol.RequestInvalidError{
		Wire: []byte("CLIENT_ERROR request invalid\r\n"),
	}
	textEnd = []byte("END\r\n")
)

// The text request Context word packs, low to high: fan-out total (16 bits),
// storage-command flag (1 bit), gets flag (1 bit).
func packTextCtx(total int, store, gets bool) uint64 {
	v := uint64(total)
	if store {
		v |= 1 << 16
	}
	if gets {
		v |= 1 << 17
	}
	return v
}

func textCtxStore(ctx uint64) bool { return ctx>>16&1 != 0 }

// lineMax bounds the command line length before the input is declared
// malformed instead of incomplete.
const lineMax = 2048

// parseTextRequest slices one text command off the stream. Multi-key get
// fans out into one synthesized single-key get per key.
func parseTextRequest(s protocol.Stream, alg hash.Hasher, proc protocol.Proc) (bool, error) {
	data := s.Slice()
	eol := data.FindCRLF(0)
	if eol < 0 {
		if data.Len() > lineMax {
			return false, errTextInvalid
		}
		return false, nil
	}

	words := splitLine(data, eol)
	if len(words) == 0 {
		return false, errTextInvalid
	}
	cmd := string(lowerWord(data, words[0]))

	switch cmd {
	case "get", "gets":
		if len(words) < 2 {
			return false, errTextInvalid
		}
		frame := s.Take(eol + 2)
		return true, emitTextGets(frame, words[1:], cmd == "gets", alg, proc)

	case "set", "add", "replace", "append", "prepend", "cas":
		// <cmd> <key> <flags> <exptime> <bytes> [cas] [noreply]\r\n<data>\r\n
		if len(words) < 5 {
			return false, errTextInvalid
		}
		n, ok := wordUint(data, words[4])
		if !ok {
			return false, errTextInvalid
		}
		total := eol + 2 + int(n) + 2
		if data.Len() < total {
			return false, nil
		}
		if data.At(total-2) != '\r' || data.At(total-1) != '\n' {
			return false, errTextInvalid
		}
		frame := s.Take(total)
		key := frame.SubSlice(words[1].pos, words[1].len)
		c := protocol.NewCommand(frame, protocol.OpStore, alg.Hash(key))
		c.Context = packTextCtx(1, true, false)
		c.FrameLen = frame.Len()
		return true, proc(&c)

	case "delete", "incr", "decr", "touch":
		if len(words) < 2 {
			return false, errTextInvalid
		}
		frame := s.Take(eol + 2)
		key := frame.SubSlice(words[1].pos, words[1].len)
		c := protocol.NewCommand(frame, protocol.OpStore, alg.Hash(key))
		c.Context = packTextCtx(1, true, false)
		c.FrameLen = frame.Len()
		return true, proc(&c)

	case "version":
		frame := s.Take(eol + 2)
		c := protocol.NewCommand(frame, protocol.OpMeta, 0)
		c.SetNoForward(true)
		c.FrameLen = frame.Len()
		return true, proc(&c)

	case "quit":
		frame := s.Take(eol + 2)
		c := protocol.NewCommand(frame, protocol.OpQuit, 0)
		c.SetNoForward(true)
		c.FrameLen = frame.Len()
		return true, proc(&c)
	}
	return false, errTextInvalid
}

func emitTextGets(frame ring.Slice, keys []word, gets bool, alg hash.Hasher, proc protocol.Proc) error {
	verb := "get"
	if gets {
		verb = "gets"
	}
	total := len(keys)
	op := protocol.OpGet
	if total > 1 {
		op = protocol.OpMGet
	}
	for i, kw := range keys {
		key := frame.SubSlice(kw.pos, kw.len)
		raw := make([]byte, 0, len(verb)+kw.len+3)
		raw = append(raw, verb...)
		raw = append(raw, ' ')
		raw = append(raw, key.Bytes()...)
		raw = append(raw, '\r', '\n')

		sub := protocol.NewCommand(ring.Own(raw), op, alg.Hash(key))
		sub.Context = packTextCtx(total, false, gets)
		sub.SetTryNext(true)
		sub.SetSentinel(true)
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

// parseTextResponse frames one text response: either a single status line or
// a chain of VALUE blocks terminated by END.
func parseTextResponse(s protocol.Stream) (*protocol.Command, error) {
	data := s.Slice()
	oft := 0
	sawValue := false
	for {
		if oft >= data.Len() {
			return nil, nil
		}
		eol := data.FindCRLF(oft)
		if eol < 0 {
			return nil, nil
		}
		if data.StartsWith(oft, []byte("VALUE")) {
			// VALUE <key> <flags> <bytes> [cas]\r\n<data>\r\n
			words := splitRange(data, oft, eol)
			if len(words) < 4 {
				return nil, protocol.ErrResponseInvalid
			}
			n, ok := wordUint(data, words[3])
			if !ok {
				return nil, protocol.ErrResponseInvalid
			}
			next := eol + 2 + int(n) + 2
			if data.Len() < next {
				return nil, nil
			}
			sawValue = true
			oft = next
			continue
		}
		if data.StartsWith(oft, textEnd[:3]) && eol == oft+3 {
			frame := s.Take(eol + 2)
			return &protocol.Command{Data: frame, OK: true, Miss: !sawValue}, nil
		}
		if sawValue {
			return nil, protocol.ErrResponseInvalid
		}
		// Single status line.
		frame := s.Take(eol + 2)
		ok := !frame.StartsWith(0, []byte("ERROR")) &&
			!frame.StartsWith(0, []byte("SERVER_ERROR")) &&
			!frame.StartsWith(0, []byte("CLIENT_ERROR"))
		miss := frame.StartsWith(0, []byte("NOT_FOUND"))
		return &protocol.Command{Data: frame, OK: ok, Miss: miss}, nil
	}
}

func writeTextResponse(req *protocol.HashedCommand, resp *protocol.Command, w protocol.Writer) error {
	if req.NoForward() {
		switch req.Op {
		case protocol.OpQuit:
			return nil
		default:
			_, err := w.Write([]byte("VERSION 1.6.0\r\n"))
			return err
		}
	}
	if resp == nil {
		return protocol.ErrNoResponseFound
	}
	if textCtxStore(req.Context) {
		return w.WriteSlice(resp.Data)
	}

	// Retrieval: each sub-response contributes its VALUE blocks with the
	// per-shard END stripped; the terminator rides on the last sub.
	if resp.OK && !resp.Miss && resp.Data.Len() > len(textEnd) {
		body := resp.Data.SubSlice(0, resp.Data.Len()-len(textEnd))
		if err := w.WriteSlice(body); err != nil {
			return err
		}
	}
	if req.Last() || req.Op == protocol.OpGet {
		_, err := w.Write(textEnd)
		return err
	}
	return nil
}

// word locates one whitespace-separated token on a command line.
type word struct {
	pos, len int
}

func splitLine(data ring.Slice, eol int) []word {
	return splitRange(data, 0, eol)
}

func splitRange(data ring.Slice, from, to int) []word {
	var words []word
	i := from
	for i < to {
		for i < to && data.At(i) == ' ' {
			i++
		}
		start := i
		for i < to && data.At(i) != ' ' {
			i++
		}
		if i > start {
			words = append(words, word{pos: start, len: i - start})
		}
	}
	return words
}

func lowerWord(data ring.Slice, wd word) []byte {
	out := make([]byte, wd.len)
	for i := 0; i < wd.len; i++ {
		c := data.At(wd.pos + i)
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func wordUint(data ring.Slice, wd word) (uint64, bool) {
	raw := make([]byte, wd.len)
	for i := range raw {
		raw[i] = data.At(wd.pos + i)
	}
	v, err := strconv.ParseUint(string(raw), 10, 32)
	return v, err == nil
}
