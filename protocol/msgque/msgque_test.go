package msgque

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

type testStream struct {
	buf    *ring.Buffer
	parsed int
	ctx    uint64
}

func newTestStream(data string) *testStream {
	b := ring.New(max(len(data), 16))
	b.Write([]byte(data))
	return &testStream{buf: b}
}

func (s *testStream) Slice() ring.Slice {
	r := s.buf.Readable()
	return r.SubSlice(s.parsed, r.Len()-s.parsed)
}

func (s *testStream) Take(n int) ring.Slice {
	f := s.Slice().SubSlice(0, n)
	s.parsed += n
	return f
}

func (s *testStream) Context() *uint64 { return &s.ctx }

type sink struct {
	bytes.Buffer
}

func (s *sink) WriteSlice(sl ring.Slice) error {
	s.Write(sl.Bytes())
	return nil
}

func parseAll(t *testing.T, input string) []protocol.HashedCommand {
	t.Helper()
	var out []protocol.HashedCommand
	err := Parser{}.ParseRequest(newTestStream(input), hash.From("padding", nil),
		func(cmd *protocol.HashedCommand) error {
			out = append(out, *cmd)
			return nil
		})
	require.NoError(t, err)
	return out
}

func TestParseGet(t *testing.T) {
	cmds := parseAll(t, "get feed.status\r\n")
	require.Len(t, cmds, 1)
	assert.Equal(t, protocol.OpGet, cmds[0].Op)
	assert.True(t, cmds[0].DirectHash())
	assert.True(t, cmds[0].TryNext())
}

// The payload size rides in the hash so the endpoint can pick a fitting
// queue.
func TestParseSetCarriesSize(t *testing.T) {
	cmds := parseAll(t, "set feed.status 0 0 5\r\nhello\r\n")
	require.Len(t, cmds, 1)
	assert.Equal(t, protocol.OpStore, cmds[0].Op)
	assert.Equal(t, int64(5), cmds[0].Hash)
	assert.True(t, cmds[0].DirectHash())
}

func TestParseInvalid(t *testing.T) {
	s := newTestStream("stats\r\n")
	err := Parser{}.ParseRequest(s, hash.From("padding", nil), func(*protocol.HashedCommand) error { return nil })
	require.Error(t, err)
	wire, ok := protocol.IsWireError(err)
	require.True(t, ok)
	assert.Equal(t, "CLIENT_ERROR request invalid\r\n", string(wire))
}

func TestEmptyQueueAnswersEnd(t *testing.T) {
	cmds := parseAll(t, "get q\r\n")
	require.Len(t, cmds, 1)

	var out sink
	miss := &protocol.Command{Data: ring.Own([]byte("END\r\n")), OK: true, Miss: true}
	require.NoError(t, Parser{}.WriteResponse(&cmds[0], miss, &out))
	assert.Equal(t, "END\r\n", out.String())
}

func TestResponsePassthrough(t *testing.T) {
	cmds := parseAll(t, "get q\r\n")
	var out sink
	hit := &protocol.Command{Data: ring.Own([]byte("VALUE q 0 2\r\nhi\r\nEND\r\n")), OK: true}
	require.NoError(t, Parser{}.WriteResponse(&cmds[0], hit, &out))
	assert.Equal(t, "VALUE q 0 2\r\nhi\r\nEND\r\n", out.String())
}

func TestParseResponse(t *testing.T) {
	resp, err := Parser{}.ParseResponse(newTestStream("VALUE q 0 2\r\nhi\r\nEND\r\n"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.OK)
	assert.False(t, resp.Miss)

	resp, err = Parser{}.ParseResponse(newTestStream("END\r\n"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Miss)

	resp, err = Parser{}.ParseResponse(newTestStream("STORED\r\n"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.OK)
}
