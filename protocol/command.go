package protocol

import (
	"github.com/weibocom/breeze-sub003/ds/ring"
)

// Flag bits of a request. They live in one word so a retry can reset the
// volatile ones with a single store.
const (
	flagSentinel uint32 = 1 << iota
	flagTryNext
	flagWriteBack
	flagNoForward
	flagFirst
	flagLast
	flagDirectHash
)

// HashedCommand is one complete client request: the raw frame, its routing
// hash and the parsed routing attributes. The frame is a view into the
// connection's ingress ring (or owned storage for synthesized sub-requests)
// and stays valid until the owning context retires.
type HashedCommand struct {
	Data ring.Slice
	Op   Operation
	Hash int64

	flags uint32
	// Context is protocol scratch that survives retries: layer cursors,
	// sequence ids, handshake phases. Each protocol reinterprets it.
	Context uint64

	// FrameLen is the number of ingress-ring bytes the client command
	// occupied. Within a fan-out only the last sub-request carries it, so the
	// ring advances exactly once per client frame, after the whole group
	// retires.
	FrameLen int
}

// NewCommand builds a request over data.
func NewCommand(data ring.Slice, op Operation, h int64) HashedCommand {
	return HashedCommand{Data: data, Op: op, Hash: h}
}

func (c *HashedCommand) set(bit uint32, v bool) {
	if v {
		c.flags |= bit
	} else {
		c.flags &^= bit
	}
}

// Sentinel marks requests whose miss response triggers layer fallback.
func (c *HashedCommand) Sentinel() bool     { return c.flags&flagSentinel != 0 }
func (c *HashedCommand) SetSentinel(v bool) { c.set(flagSentinel, v) }

// TryNext marks idempotent requests eligible for retry on the next layer or
// replica.
func (c *HashedCommand) TryNext() bool     { return c.flags&flagTryNext != 0 }
func (c *HashedCommand) SetTryNext(v bool) { c.set(flagTryNext, v) }

// WriteBack marks a request that repairs upper layers after a lower-layer
// hit.
func (c *HashedCommand) WriteBack() bool     { return c.flags&flagWriteBack != 0 }
func (c *HashedCommand) SetWriteBack(v bool) { c.set(flagWriteBack, v) }

// NoForward marks requests answered by the agent itself (PING, SELECT...).
func (c *HashedCommand) NoForward() bool     { return c.flags&flagNoForward != 0 }
func (c *HashedCommand) SetNoForward(v bool) { c.set(flagNoForward, v) }

// First and Last delimit the sub-requests of one client command.
func (c *HashedCommand) First() bool     { return c.flags&flagFirst != 0 }
func (c *HashedCommand) SetFirst(v bool) { c.set(flagFirst, v) }
func (c *HashedCommand) Last() bool      { return c.flags&flagLast != 0 }
func (c *HashedCommand) SetLast(v bool)  { c.set(flagLast, v) }

// DirectHash marks requests whose hash addresses a shard directly instead of
// going through a key.
func (c *HashedCommand) DirectHash() bool     { return c.flags&flagDirectHash != 0 }
func (c *HashedCommand) SetDirectHash(v bool) { c.set(flagDirectHash, v) }

// Command is one parsed backend response frame: a view over the backend's
// read ring plus the decoded status.
type Command struct {
	Data ring.Slice
	// OK means the backend answered the request without a server error.
	OK bool
	// Miss means the key was absent; on layered reads it drives fallback.
	Miss bool

	// release is armed by the backend driver so the frame's ring region can
	// be reclaimed once the owning context retires.
	release func()
}

// OwnedCommand builds a response over owned bytes, for locally synthesized
// replies.
func OwnedCommand(p []byte, ok, miss bool) *Command {
	return &Command{Data: ring.Own(p), OK: ok, Miss: miss}
}

// ArmRelease registers the reclaim hook. The owning callback context calls
// Release when it is destroyed, or as soon as it discards the response (a
// cancelled request, a miss handed to the next layer).
func (c *Command) ArmRelease(fn func()) { c.release = fn }

// Release reclaims the backing ring region.
func (c *Command) Release() {
	if c.release != nil {
		c.release()
		c.release = nil
	}
}
