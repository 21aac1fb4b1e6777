package redis

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/hash"
	"github.com/weibocom/breeze-sub003/protocol"
)

// testStream is an in-memory protocol.Stream over a ring buffer.
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

func (s *testStream) feed(data string) {
	if s.buf.Free() < len(data) {
		s.buf.Grow(len(data))
	}
	s.buf.Write([]byte(data))
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

// sink collects written response bytes.
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
	s := newTestStream(input)
	err := Parser{}.ParseRequest(s, hash.From("crc32", nil), func(cmd *protocol.HashedCommand) error {
		out = append(out, *cmd)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestParseSingleGet(t *testing.T) {
	cmds := parseAll(t, "*2\r\n$3\r\nGET\r\n$7\r\nuser:42\r\n")
	require.Len(t, cmds, 1)
	cmd := cmds[0]
	assert.Equal(t, protocol.OpGet, cmd.Op)
	assert.Equal(t, hash.Crc32{}.Hash(hash.Bytes("user:42")), cmd.Hash)
	assert.True(t, cmd.TryNext())
	assert.True(t, cmd.Sentinel())
	assert.Equal(t, "*2\r\n$3\r\nGET\r\n$7\r\nuser:42\r\n", cmd.Data.String())
	assert.Equal(t, cmd.Data.Len(), cmd.FrameLen)
}

func TestParsePipelined(t *testing.T) {
	cmds := parseAll(t, "*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nQUIT\r\n")
	require.Len(t, cmds, 3)
	assert.True(t, cmds[0].NoForward())
	assert.True(t, cmds[1].NoForward())
	assert.Equal(t, protocol.OpQuit, cmds[2].Op)
}

func TestParsePartialConsumesNothing(t *testing.T) {
	s := newTestStream("*2\r\n$3\r\nget\r\n$7\r\nuse")
	calls := 0
	err := Parser{}.ParseRequest(s, hash.From("crc32", nil), func(*protocol.HashedCommand) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Zero(t, s.parsed)

	// Completing the frame yields exactly one command.
	s.feed("r:42\r\n")
	err = Parser{}.ParseRequest(s, hash.From("crc32", nil), func(*protocol.HashedCommand) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"*-1\r\n":          "-ERR request invalid\r\n",
		"PING\r\n":         "-ERR request invalid star\r\n",
		"*x\r\n":           "-ERR request invalid num\r\n",
		"*1\r\n$x\r\n":     "-ERR request invalid num\r\n",
		"*1\r\n$2\r\nabc1": "-ERR request missing return\r\n",
	}
	for input, wire := range cases {
		s := newTestStream(input)
		err := Parser{}.ParseRequest(s, hash.From("crc32", nil), func(*protocol.HashedCommand) error {
			t.Fatalf("no command expected for %q", input)
			return nil
		})
		require.Error(t, err, input)
		got, ok := protocol.IsWireError(err)
		require.True(t, ok, input)
		assert.Equal(t, wire, string(got), input)
	}
}

func TestParseUnsupportedCommand(t *testing.T) {
	s := newTestStream("*2\r\n$5\r\nBLPOP\r\n$1\r\nk\r\n")
	err := Parser{}.ParseRequest(s, hash.From("crc32", nil), func(*protocol.HashedCommand) error { return nil })
	require.Error(t, err)
	_, ok := protocol.IsWireError(err)
	assert.True(t, ok)
}

func TestMGetFanOut(t *testing.T) {
	cmds := parseAll(t, "*3\r\n$4\r\nmget\r\n$2\r\nk1\r\n$2\r\nk2\r\n")
	require.Len(t, cmds, 2)

	assert.True(t, cmds[0].First())
	assert.False(t, cmds[0].Last())
	assert.True(t, cmds[1].Last())
	assert.Zero(t, cmds[0].FrameLen)
	assert.Equal(t, len("*3\r\n$4\r\nmget\r\n$2\r\nk1\r\n$2\r\nk2\r\n"), cmds[1].FrameLen)

	assert.Equal(t, "*2\r\n$3\r\nget\r\n$2\r\nk1\r\n", cmds[0].Data.String())
	assert.Equal(t, "*2\r\n$3\r\nget\r\n$2\r\nk2\r\n", cmds[1].Data.String())
	assert.Equal(t, hash.Crc32{}.Hash(hash.Bytes("k1")), cmds[0].Hash)
	assert.Equal(t, hash.Crc32{}.Hash(hash.Bytes("k2")), cmds[1].Hash)
}

func TestMGetReassembly(t *testing.T) {
	cmds := parseAll(t, "*3\r\n$4\r\nmget\r\n$2\r\nk1\r\n$2\r\nk2\r\n")
	require.Len(t, cmds, 2)

	var out sink
	hit := &protocol.Command{Data: ring.Own([]byte("$5\r\nhello\r\n")), OK: true}
	require.NoError(t, Parser{}.WriteResponse(&cmds[0], hit, &out))

	miss := &protocol.Command{Data: ring.Own([]byte("$-1\r\n")), OK: true, Miss: true}
	require.NoError(t, Parser{}.WriteResponse(&cmds[1], miss, &out))

	assert.Equal(t, "*2\r\n$5\r\nhello\r\n$-1\r\n", out.String())
}

func TestMSetFanOutAndReply(t *testing.T) {
	cmds := parseAll(t, "*5\r\n$4\r\nmset\r\n$2\r\nk1\r\n$2\r\nv1\r\n$2\r\nk2\r\n$2\r\nv2\r\n")
	require.Len(t, cmds, 2)
	assert.Equal(t, "*3\r\n$3\r\nset\r\n$2\r\nk1\r\n$2\r\nv1\r\n", cmds[0].Data.String())
	assert.Equal(t, protocol.OpStore, cmds[0].Op)

	var out sink
	ok := &protocol.Command{Data: ring.Own([]byte("+OK\r\n")), OK: true}
	require.NoError(t, Parser{}.WriteResponse(&cmds[0], ok, &out))
	require.NoError(t, Parser{}.WriteResponse(&cmds[1], ok, &out))
	assert.Equal(t, "+OK\r\n", out.String())
}

func TestNoForwardCanned(t *testing.T) {
	cmds := parseAll(t, "*1\r\n$4\r\nping\r\n*1\r\n$4\r\nQUIT\r\n")
	require.Len(t, cmds, 2)

	var out sink
	require.NoError(t, Parser{}.WriteResponse(&cmds[0], nil, &out))
	require.NoError(t, Parser{}.WriteResponse(&cmds[1], nil, &out))
	assert.Equal(t, "+PONG\r\n+OK\r\n", out.String())
}

func TestParseResponses(t *testing.T) {
	cases := []struct {
		input string
		ok    bool
		miss  bool
	}{
		{"+OK\r\n", true, false},
		{"-ERR oops\r\n", false, false},
		{":42\r\n", true, false},
		{"$5\r\nhello\r\n", true, false},
		{"$-1\r\n", true, true},
		{"*2\r\n$1\r\na\r\n$1\r\nb\r\n", true, false},
		{"*-1\r\n", true, true},
	}
	for _, c := range cases {
		s := newTestStream(c.input)
		resp, err := Parser{}.ParseResponse(s)
		require.NoError(t, err, c.input)
		require.NotNil(t, resp, c.input)
		assert.Equal(t, c.ok, resp.OK, c.input)
		assert.Equal(t, c.miss, resp.Miss, c.input)
		assert.Equal(t, c.input, resp.Data.String(), c.input)
	}
}

func TestParseResponsePartial(t *testing.T) {
	for _, input := range []string{"$5\r\nhel", "*2\r\n$1\r\na\r\n", "+OK"} {
		s := newTestStream(input)
		resp, err := Parser{}.ParseResponse(s)
		require.NoError(t, err, input)
		assert.Nil(t, resp, input)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	// Parsing then re-serializing a request yields byte-equal output.
	input := "*2\r\n$3\r\nget\r\n$7\r\nuser:42\r\n"
	cmds := parseAll(t, input)
	require.Len(t, cmds, 1)
	var out sink
	require.NoError(t, Parser{}.WriteRequest(&cmds[0], &out))
	assert.Equal(t, input, out.String())
}

func TestBuildRepair(t *testing.T) {
	cmds := parseAll(t, "*2\r\n$3\r\nget\r\n$2\r\nk1\r\n")
	require.Len(t, cmds, 1)
	resp := &protocol.Command{Data: ring.Own([]byte("$5\r\nhello\r\n")), OK: true}

	repair, ok := Parser{}.BuildRepair(&cmds[0], resp)
	require.True(t, ok)
	assert.Equal(t, "*3\r\n$3\r\nset\r\n$2\r\nk1\r\n$5\r\nhello\r\n", repair.Data.String())
	assert.True(t, repair.WriteBack())
	assert.Equal(t, cmds[0].Hash, repair.Hash)

	_, ok = Parser{}.BuildRepair(&cmds[0], &protocol.Command{Data: ring.Own([]byte("$-1\r\n"))})
	assert.False(t, ok)
}
