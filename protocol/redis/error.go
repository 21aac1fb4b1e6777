package redis

import (
	"errors"
	"fmt"

	"github.com/weibocom/breeze-sub003/protocol"
)

// WriteError reports a failed request in RESP before the connection drops.
func (p Parser) WriteError(_ *protocol.HashedCommand, err error, w protocol.Writer) error {
	var terr *protocol.TimeoutError
	if errors.As(err, &terr) {
		_, werr := w.Write([]byte(fmt.Sprintf("-ERR Timeout(%dms)\r\n", terr.Elapsed.Milliseconds())))
		return werr
	}
	_, werr := w.Write([]byte("-ERR backend unavailable\r\n"))
	return werr
}
