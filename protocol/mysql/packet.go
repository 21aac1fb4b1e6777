package mysql

import (
	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/protocol"
)

// Wire packets are a 3-byte little-endian payload length, a sequence id and
// the payload. Frames returned here include the header.
const packetHeaderLen = 4

// peekPacket reports the total length of the next packet in data, or ok=false
// while it is still incomplete.
func peekPacket(data ring.Slice, oft int) (total int, ok bool) {
	if data.Len()-oft < packetHeaderLen {
		return 0, false
	}
	payload := int(data.U24LE(oft))
	total = packetHeaderLen + payload
	if data.Len()-oft < total {
		return 0, false
	}
	return total, true
}

// payloadByte returns the first payload byte of the packet at oft.
func payloadByte(data ring.Slice, oft int) byte {
	return data.At(oft + packetHeaderLen)
}

const (
	packetOK  = 0x00
	packetErr = 0xff
	packetEOF = 0xfe
)

// isEOF reports a classic EOF packet: 0xfe with a short payload.
func isEOF(data ring.Slice, oft, total int) bool {
	return payloadByte(data, oft) == packetEOF && total-packetHeaderLen < 9
}

// responseEnd frames one complete command response: a single OK/ERR packet,
// or a result set running up to its second EOF (or terminating ERR). Returns
// ok=false while incomplete.
func responseEnd(data ring.Slice) (end int, ok bool) {
	total, okP := peekPacket(data, 0)
	if !okP {
		return 0, false
	}
	switch payloadByte(data, 0) {
	case packetOK, packetErr:
		return total, true
	}
	if isEOF(data, 0, total) {
		return total, true
	}

	// Result set: column count, column definitions, EOF, rows, EOF.
	oft := total
	eofs := 0
	for {
		total, okP := peekPacket(data, oft)
		if !okP {
			return 0, false
		}
		first := payloadByte(data, oft)
		next := oft + total
		if first == packetErr {
			return next, true
		}
		if isEOF(data, oft, total) {
			eofs++
			if eofs == 2 {
				return next, true
			}
		}
		oft = next
	}
}

// buildPacket prepends the wire header to payload.
func buildPacket(seq byte, payload []byte) []byte {
	out := make([]byte, packetHeaderLen+len(payload))
	out[0] = byte(len(payload))
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload) >> 16)
	out[3] = seq
	copy(out[packetHeaderLen:], payload)
	return out
}

// writePacket serializes one packet onto w.
func writePacket(w protocol.Writer, seq byte, payload []byte) error {
	_, err := w.Write(buildPacket(seq, payload))
	return err
}

// okPayload builds a minimal OK packet payload.
func okPayload() []byte {
	// affected rows 0, last insert id 0, autocommit status, no warnings.
	return []byte{packetOK, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
}

// errPayload builds an ERR packet payload with the given code and message.
func errPayload(code uint16, msg string) []byte {
	out := make([]byte, 0, 9+len(msg))
	out = append(out, packetErr, byte(code), byte(code>>8))
	out = append(out, '#')
	out = append(out, "HY000"...)
	out = append(out, msg...)
	return out
}
