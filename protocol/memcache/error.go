package memcache

import (
	"github.com/weibocom/breeze-sub003/protocol"
)

const statusInternalError = 0x0084

// WriteError reports a failed request in the dialect the client spoke.
func (p Parser) WriteError(req *protocol.HashedCommand, err error, w protocol.Writer) error {
	if req.Data.Len() > 0 && req.Data.At(0) == magicRequest {
		header := make([]byte, headerLen)
		header[0] = magicResponse
		header[1] = binCtxOpcode(req.Context)
		header[6] = statusInternalError >> 8
		header[7] = statusInternalError & 0xff
		_, werr := w.Write(header)
		return werr
	}
	_, werr := w.Write([]byte("SERVER_ERROR backend unavailable\r\n"))
	return werr
}
