// Package mysql implements enough of the client/server wire protocol to
// proxy COM_QUERY traffic: the server greeting towards clients, the
// mysql_native_password login towards backends, and response framing by
// packet chains. Statement routing extracts a key via a Strategy; everything
// else about SQL stays opaque.
package mysql

import (
	"crypto/rand"
	"fmt"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

func init() {
	protocol.Register("mysql", New(KeyEq{Column: "id"}))
}

// Connection phases, kept in the second byte of the stream context.
const (
	phaseInit = iota
	phasePending
	phaseReady
)

func phaseOf(ctx uint64) uint64 { return ctx >> 8 & 0xff }

func setPhase(ctx *uint64, p uint64) { *ctx = *ctx&^uint64(0xff00) | p<<8 }

// COM command bytes.
const (
	comQuit  = 0x01
	comQuery = 0x03
	comPing  = 0x0e
)

// Capability flags used in the login exchange.
const (
	capLongPassword     = 0x00000001
	capProtocol41       = 0x00000200
	capTransactions     = 0x00002000
	capSecureConnection = 0x00008000
	capPluginAuth       = 0x00080000
	capConnectWithDB    = 0x00000008
)

// Parser carries the per-service routing strategy; the wire state machines
// themselves are stateless.
type Parser struct {
	strategy Strategy
	auth     Authenticator
}

// New builds a parser routing by the given strategy.
func New(strategy Strategy) Parser {
	return Parser{strategy: strategy, auth: nativeAuth{}}
}

func (Parser) Name() string { return "mysql" }

var errUnsupportedCom = &protocol.RequestInvalidError{
	Wire: buildPacket(1, errPayload(1047, "command not supported by proxy")),
}

// The request Context word stores the COM byte in its low bits.
func comOf(ctx uint64) byte { return byte(ctx) }

// GreetClient speaks first on a fresh client connection: greeting out, login
// response in, OK out. Credentials are not verified here; access control
// lives in front of the mesh.
func (p Parser) GreetClient(s protocol.Stream, w protocol.Writer) (bool, error) {
	ctx := s.Context()
	switch phaseOf(*ctx) {
	case phaseInit:
		if err := writePacket(w, 0, greetingPayload()); err != nil {
			return false, err
		}
		setPhase(ctx, phasePending)
		return false, nil
	case phasePending:
		data := s.Slice()
		total, ok := peekPacket(data, 0)
		if !ok {
			return false, nil
		}
		seq := data.At(3)
		s.Take(total)
		if err := writePacket(w, seq+1, okPayload()); err != nil {
			return false, err
		}
		setPhase(ctx, phaseReady)
		return true, nil
	}
	return true, nil
}

// greetingPayload builds the protocol-10 server greeting.
func greetingPayload() []byte {
	nonce := make([]byte, 20)
	rand.Read(nonce)

	caps := uint32(capLongPassword | capProtocol41 | capTransactions |
		capSecureConnection | capPluginAuth | capConnectWithDB)

	out := make([]byte, 0, 96)
	out = append(out, 0x0a)
	out = append(out, "5.7.34-mesh\x00"...)
	out = append(out, 1, 0, 0, 0) // thread id
	out = append(out, nonce[:8]...)
	out = append(out, 0x00)
	out = append(out, byte(caps), byte(caps>>8)) // capabilities, low
	out = append(out, 0x21)                      // charset utf8_general_ci
	out = append(out, 0x02, 0x00)                // status: autocommit
	out = append(out, byte(caps>>16), byte(caps>>24))
	out = append(out, 21) // auth data length
	out = append(out, make([]byte, 10)...)
	out = append(out, nonce[8:]...)
	out = append(out, 0x00)
	out = append(out, "mysql_native_password\x00"...)
	return out
}

func (p Parser) ParseRequest(s protocol.Stream, _ hash.Hasher, proc protocol.Proc) error {
	for {
		data := s.Slice()
		if data.Len() == 0 {
			return nil
		}
		total, ok := peekPacket(data, 0)
		if !ok {
			return nil
		}
		if total == packetHeaderLen {
			return errUnsupportedCom
		}
		com := payloadByte(data, 0)
		frame := s.Take(total)

		cmd := protocol.HashedCommand{Data: frame, FrameLen: frame.Len()}
		cmd.Context = uint64(com)
		switch com {
		case comQuery:
			query := frame.SubSlice(packetHeaderLen+1, frame.Len()-packetHeaderLen-1)
			h, matched := p.strategy.Key(query)
			if !matched {
				h = 0
			}
			cmd.Hash = h
			if isSelect(query) {
				cmd.Op = protocol.OpGet
				cmd.SetTryNext(true)
			} else {
				cmd.Op = protocol.OpStore
			}
		case comPing:
			cmd.Op = protocol.OpMeta
			cmd.SetNoForward(true)
		case comQuit:
			cmd.Op = protocol.OpQuit
			cmd.SetNoForward(true)
		default:
			return errUnsupportedCom
		}
		if err := proc(&cmd); err != nil {
			return err
		}
	}
}

func isSelect(query ring.Slice) bool {
	i := 0
	for i < query.Len() && (query.At(i) == ' ' || query.At(i) == '\t' || query.At(i) == '\n') {
		i++
	}
	return query.EqualIgnoreCase(i, []byte("select"))
}

func (p Parser) ParseResponse(s protocol.Stream) (*protocol.Command, error) {
	data := s.Slice()
	if data.Len() == 0 {
		return nil, nil
	}
	end, ok := responseEnd(data)
	if !ok {
		return nil, nil
	}
	frame := s.Take(end)
	return &protocol.Command{
		Data: frame,
		OK:   payloadByte(frame, 0) != packetErr,
	}, nil
}

// WriteRequest re-sequences the command packet to zero; everything after the
// header passes through untouched.
func (p Parser) WriteRequest(req *protocol.HashedCommand, w protocol.Writer) error {
	payload := req.Data.Len() - packetHeaderLen
	header := []byte{byte(payload), byte(payload >> 8), byte(payload >> 16), 0}
	if _, err := w.Write(header); err != nil {
		return err
	}
	return w.WriteSlice(req.Data.SubSlice(packetHeaderLen, payload))
}

func (p Parser) WriteResponse(req *protocol.HashedCommand, resp *protocol.Command, w protocol.Writer) error {
	if req.NoForward() {
		if comOf(req.Context) == comQuit {
			return nil
		}
		return writePacket(w, 1, okPayload())
	}
	if resp == nil {
		return protocol.ErrNoResponseFound
	}
	return w.WriteSlice(resp.Data)
}

// Handshake drives the backend login: greeting in, scrambled credentials
// out, OK in.
func (p Parser) Handshake(s protocol.Stream, w protocol.Writer, auth protocol.Auth) (bool, error) {
	ctx := s.Context()
	switch phaseOf(*ctx) {
	case phaseInit:
		data := s.Slice()
		total, ok := peekPacket(data, 0)
		if !ok {
			return false, nil
		}
		frame := s.Take(total)
		greeting, err := parseGreeting(frame)
		if err != nil {
			return false, err
		}
		token, ok := p.auth.Token(greeting.plugin, auth.Password, greeting.nonce)
		if !ok {
			return false, fmt.Errorf("mysql: auth plugin %q not supported: %w",
				greeting.plugin, protocol.ErrProtocolNotSupported)
		}
		login := loginPayload(auth, token)
		if err := writePacket(w, greeting.seq+1, login); err != nil {
			return false, err
		}
		setPhase(ctx, phasePending)
		return false, nil

	case phasePending:
		data := s.Slice()
		total, ok := peekPacket(data, 0)
		if !ok {
			return false, nil
		}
		frame := s.Take(total)
		switch payloadByte(frame, 0) {
		case packetOK:
			setPhase(ctx, phaseReady)
			return true, nil
		case packetErr:
			return false, fmt.Errorf("mysql: backend refused login: %w", protocol.ErrNotInit)
		default:
			// Auth method switch: needs the full Authenticator collaborator.
			return false, fmt.Errorf("mysql: auth switch requested: %w",
				protocol.ErrProtocolNotSupported)
		}
	}
	return true, nil
}

type greeting struct {
	seq    byte
	nonce  []byte
	plugin string
}

func parseGreeting(frame ring.Slice) (*greeting, error) {
	raw := frame.Bytes()
	if len(raw) < packetHeaderLen+1 || raw[packetHeaderLen] != 0x0a {
		return nil, protocol.ErrResponseInvalid
	}
	g := &greeting{seq: raw[3]}
	p := raw[packetHeaderLen+1:]

	// Server version, NUL-terminated.
	i := 0
	for i < len(p) && p[i] != 0 {
		i++
	}
	i++ // NUL
	if len(p) < i+4+8+1+2+1+2+2+1+10 {
		return nil, protocol.ErrResponseInvalid
	}
	i += 4 // thread id
	g.nonce = append(g.nonce, p[i:i+8]...)
	i += 8 + 1 // auth part 1, filler
	i += 2     // capabilities low
	i += 1 + 2 // charset, status
	i += 2     // capabilities high
	authLen := int(p[i])
	i += 1 + 10 // auth len, reserved

	// Auth part 2: documented as max(13, authLen-8), NUL-terminated.
	part2 := 12
	if authLen > 0 && authLen-8-1 < part2 {
		part2 = authLen - 8 - 1
	}
	if len(p) < i+part2 {
		return nil, protocol.ErrResponseInvalid
	}
	g.nonce = append(g.nonce, p[i:i+part2]...)
	i += part2
	if i < len(p) && p[i] == 0 {
		i++
	}

	// Auth plugin name, NUL-terminated, optional.
	start := i
	for i < len(p) && p[i] != 0 {
		i++
	}
	g.plugin = string(p[start:i])
	return g, nil
}

// loginPayload builds a HandshakeResponse41.
func loginPayload(auth protocol.Auth, token []byte) []byte {
	caps := uint32(capLongPassword | capProtocol41 | capTransactions |
		capSecureConnection | capPluginAuth)
	if auth.Database != "" {
		caps |= capConnectWithDB
	}

	out := make([]byte, 0, 64+len(auth.Username)+len(token))
	out = append(out, byte(caps), byte(caps>>8), byte(caps>>16), byte(caps>>24))
	out = append(out, 0x00, 0x00, 0x00, 0x01) // max packet size 16MB
	out = append(out, 0x21)                   // charset
	out = append(out, make([]byte, 23)...)
	out = append(out, auth.Username...)
	out = append(out, 0x00)
	out = append(out, byte(len(token)))
	out = append(out, token...)
	if auth.Database != "" {
		out = append(out, auth.Database...)
		out = append(out, 0x00)
	}
	out = append(out, "mysql_native_password\x00"...)
	return out
}
