package stream

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/endpoint"
	"github.com/weibocom/breeze-sub003/protocol"
	_ "github.com/weibocom/breeze-sub003/protocol/redis"
)

// testRequest collects its completion.
type testRequest struct {
	cmd  protocol.HashedCommand
	mu   sync.Mutex
	resp *protocol.Command
	err  error
	done chan struct{}
}

func newTestRequest(frame string) *testRequest {
	return &testRequest{
		cmd:  protocol.NewCommand(ring.Own([]byte(frame)), protocol.OpGet, 0),
		done: make(chan struct{}),
	}
}

func (r *testRequest) Cmd() *protocol.HashedCommand { return &r.cmd }
func (r *testRequest) Attempt() int                 { return 0 }

func (r *testRequest) OnComplete(resp *protocol.Command) {
	r.mu.Lock()
	r.resp = resp
	r.mu.Unlock()
	close(r.done)
}

func (r *testRequest) OnErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// fakeRedisServer answers +OK to every three-line RESP frame, i.e. every
// single-argument command such as PING.
func fakeRedisServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					// A single-argument frame (*1, $len, arg) is three lines.
					lines := 0
					for lines < 3 {
						line, err := r.ReadString('\n')
						if err != nil {
							return
						}
						if strings.HasSuffix(line, "\n") {
							lines++
						}
					}
					if _, err := conn.Write([]byte("+OK\r\n")); err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func waitInited(t *testing.T, b *Backend) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !b.Inited() {
		if time.Now().After(deadline) {
			t.Fatal("backend did not become ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBackendRoundTrip(t *testing.T) {
	addr, stop := fakeRedisServer(t)
	defer stop()

	b := NewBackend(addr, endpoint.BackendOptions{Resource: "redis", TimeoutMs: 500}, zap.NewNop().Sugar())
	defer b.Close()
	waitInited(t, b)

	req := newTestRequest("*1\r\n$4\r\nPING\r\n")
	b.Send(req)
	select {
	case <-req.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
	}
	require.NoError(t, req.err)
	require.NotNil(t, req.resp)
	assert.True(t, req.resp.OK)
	assert.Equal(t, "+OK\r\n", req.resp.Data.String())
	req.resp.Release()
}

func TestBackendPipelinesInOrder(t *testing.T) {
	addr, stop := fakeRedisServer(t)
	defer stop()

	b := NewBackend(addr, endpoint.BackendOptions{Resource: "redis", TimeoutMs: 500}, zap.NewNop().Sugar())
	defer b.Close()
	waitInited(t, b)

	reqs := make([]*testRequest, 8)
	for i := range reqs {
		reqs[i] = newTestRequest("*1\r\n$4\r\nPING\r\n")
		b.Send(reqs[i])
	}
	for i, req := range reqs {
		select {
		case <-req.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d never completed", i)
		}
		require.NoError(t, req.err, "request %d", i)
		req.resp.Release()
	}
}

func TestBackendSendAfterClose(t *testing.T) {
	addr, stop := fakeRedisServer(t)
	defer stop()

	b := NewBackend(addr, endpoint.BackendOptions{Resource: "redis", TimeoutMs: 500}, zap.NewNop().Sugar())
	b.Close()

	req := newTestRequest("*1\r\n$4\r\nPING\r\n")
	b.Send(req)
	<-req.done
	assert.ErrorIs(t, req.err, protocol.ErrTopologyChanged)
}

func TestBackendNotInitedWhileDown(t *testing.T) {
	// Nothing listens here.
	b := NewBackend("127.0.0.1:1", endpoint.BackendOptions{Resource: "redis", TimeoutMs: 100}, zap.NewNop().Sugar())
	defer b.Close()
	assert.False(t, b.Inited())
}
