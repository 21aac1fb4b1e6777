// Package msgque implements the queue-service text protocol, a memcached
// text dialect where the "key" names a queue. Reads carry no routing key at
// all: the queue endpoint round-robins them across readable backends, while
// writes land on the sized queue fitting the payload. Both decisions live in
// the endpoint; the parser only marks the request as directly addressed.
package msgque

import (
	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

func init() {
	protocol.Register("mq", Parser{})
	protocol.Register("msgque", Parser{})
}

type Parser struct{}

func (Parser) Name() string { return "msgque" }

var (
	errReqInvalid = &protocol.RequestInvalidError{
		Wire: []byte("CLIENT_ERROR request invalid\r\n"),
	}
	endLine = []byte("END\r\n")
)

const lineMax = 2048

func (p Parser) ParseRequest(s protocol.Stream, _ hash.Hasher, proc protocol.Proc) error {
	for {
		data := s.Slice()
		if data.Len() == 0 {
			return nil
		}
		eol := data.FindCRLF(0)
		if eol < 0 {
			if data.Len() > lineMax {
				return errReqInvalid
			}
			return nil
		}
		words := fields(data, eol)
		if len(words) == 0 {
			return errReqInvalid
		}

		switch string(lower(data, words[0])) {
		case "get":
			if len(words) < 2 {
				return errReqInvalid
			}
			frame := s.Take(eol + 2)
			cmd := protocol.NewCommand(frame, protocol.OpGet, 0)
			cmd.SetDirectHash(true)
			cmd.SetTryNext(true)
			cmd.FrameLen = frame.Len()
			if err := proc(&cmd); err != nil {
				return err
			}

		case "set":
			// set <queue> <flags> <exptime> <bytes>\r\n<data>\r\n
			if len(words) < 5 {
				return errReqInvalid
			}
			size, ok := fieldUint(data, words[4])
			if !ok {
				return errReqInvalid
			}
			total := eol + 2 + int(size) + 2
			if data.Len() < total {
				return nil
			}
			if data.At(total-2) != '\r' || data.At(total-1) != '\n' {
				return errReqInvalid
			}
			frame := s.Take(total)
			// The payload size doubles as the routing hash so the endpoint
			// can pick the smallest queue the message fits in.
			cmd := protocol.NewCommand(frame, protocol.OpStore, int64(size))
			cmd.SetDirectHash(true)
			cmd.FrameLen = frame.Len()
			if err := proc(&cmd); err != nil {
				return err
			}

		case "quit":
			frame := s.Take(eol + 2)
			cmd := protocol.NewCommand(frame, protocol.OpQuit, 0)
			cmd.SetNoForward(true)
			cmd.FrameLen = frame.Len()
			if err := proc(&cmd); err != nil {
				return err
			}

		default:
			return errReqInvalid
		}
	}
}

func (p Parser) ParseResponse(s protocol.Stream) (*protocol.Command, error) {
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
			words := fieldsRange(data, oft, eol)
			if len(words) < 4 {
				return nil, protocol.ErrResponseInvalid
			}
			n, ok := fieldUint(data, words[3])
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
		if data.StartsWith(oft, []byte("END")) && eol == oft+3 {
			frame := s.Take(eol + 2)
			return &protocol.Command{Data: frame, OK: true, Miss: !sawValue}, nil
		}
		if sawValue {
			return nil, protocol.ErrResponseInvalid
		}
		frame := s.Take(eol + 2)
		ok := !frame.StartsWith(0, []byte("ERROR")) &&
			!frame.StartsWith(0, []byte("SERVER_ERROR")) &&
			!frame.StartsWith(0, []byte("CLIENT_ERROR"))
		return &protocol.Command{Data: frame, OK: ok}, nil
	}
}

func (p Parser) WriteRequest(req *protocol.HashedCommand, w protocol.Writer) error {
	return w.WriteSlice(req.Data)
}

func (p Parser) WriteResponse(req *protocol.HashedCommand, resp *protocol.Command, w protocol.Writer) error {
	if req.NoForward() {
		return nil
	}
	if resp == nil {
		return protocol.ErrNoResponseFound
	}
	if req.Op == protocol.OpGet && resp.Miss {
		// An empty queue answers a bare END.
		_, err := w.Write(endLine)
		return err
	}
	return w.WriteSlice(resp.Data)
}

type field struct {
	pos, len int
}

func fields(data ring.Slice, eol int) []field {
	return fieldsRange(data, 0, eol)
}

func fieldsRange(data ring.Slice, from, to int) []field {
	var out []field
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
			out = append(out, field{pos: start, len: i - start})
		}
	}
	return out
}

func lower(data ring.Slice, f field) []byte {
	out := make([]byte, f.len)
	for i := 0; i < f.len; i++ {
		c := data.At(f.pos + i)
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func fieldUint(data ring.Slice, f field) (uint64, bool) {
	var v uint64
	for i := 0; i < f.len; i++ {
		c := data.At(f.pos + i)
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	return v, true
}
