package mysql

import (
	"errors"

	"github.com/weibocom/breeze-sub003/protocol"
)

// WriteError reports a failed request as an ERR packet.
func (p Parser) WriteError(_ *protocol.HashedCommand, err error, w protocol.Writer) error {
	msg := "backend unavailable"
	var terr *protocol.TimeoutError
	if errors.As(err, &terr) {
		msg = "backend timeout"
	}
	return writePacket(w, 1, errPayload(2013, msg))
}
