package msgque

import (
	"github.com/weibocom/breeze-sub003/protocol"
)

// WriteError reports a failed request in the text dialect.
func (p Parser) WriteError(_ *protocol.HashedCommand, _ error, w protocol.Writer) error {
	_, err := w.Write([]byte("SERVER_ERROR backend unavailable\r\n"))
	return err
}
