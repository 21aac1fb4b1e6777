package redis

import "github.com/weibocom/breeze-sub003/protocol"

// cmdProps describes how one command routes. keyIdx/keyStep locate the key
// arguments inside the bulk array; multi commands fan out one sub-request per
// key (or key/value pair).
type cmdProps struct {
	name      string
	op        protocol.Operation
	keyIdx    int
	keyStep   int
	multi     bool
	noForward bool
	canned    string // local reply for noForward commands
}

var cmdTable []cmdProps
var cmdIndex = map[string]uint8{}

func def(p cmdProps) {
	cmdIndex[p.name] = uint8(len(cmdTable))
	cmdTable = append(cmdTable, p)
}

func init() {
	// Retrievals.
	for _, name := range []string{
		"get", "exists", "ttl", "pttl", "type", "strlen",
		"hget", "hgetall", "hkeys", "hvals", "hlen", "hmget", "hexists",
		"lrange", "llen", "lindex",
		"smembers", "scard", "sismember", "srandmember",
		"zrange", "zrevrange", "zrangebyscore", "zrevrangebyscore",
		"zcard", "zscore", "zrank", "zcount",
		"getrange", "dump", "bitcount", "getbit",
	} {
		def(cmdProps{name: name, op: protocol.OpGet, keyIdx: 1})
	}

	// Stores.
	for _, name := range []string{
		"set", "setnx", "setex", "psetex", "getset", "append", "setrange",
		"incr", "decr", "incrby", "decrby", "incrbyfloat",
		"del", "unlink", "expire", "pexpire", "expireat", "persist",
		"hset", "hsetnx", "hmset", "hdel", "hincrby", "hincrbyfloat",
		"lpush", "rpush", "lpop", "rpop", "lset", "ltrim", "linsert", "lrem",
		"sadd", "srem", "spop",
		"zadd", "zrem", "zincrby", "zremrangebyrank", "zremrangebyscore",
		"setbit", "restore",
	} {
		def(cmdProps{name: name, op: protocol.OpStore, keyIdx: 1})
	}

	// Multi-key fan-outs.
	def(cmdProps{name: "mget", op: protocol.OpMGet, keyIdx: 1, keyStep: 1, multi: true})
	def(cmdProps{name: "mset", op: protocol.OpStore, keyIdx: 1, keyStep: 2, multi: true})

	// Answered locally.
	def(cmdProps{name: "ping", op: protocol.OpMeta, noForward: true, canned: "+PONG\r\n"})
	def(cmdProps{name: "select", op: protocol.OpMeta, noForward: true, canned: "+OK\r\n"})
	def(cmdProps{name: "hello", op: protocol.OpMeta, noForward: true, canned: "+OK\r\n"})
	def(cmdProps{name: "command", op: protocol.OpMeta, noForward: true, canned: "+OK\r\n"})
	def(cmdProps{name: "quit", op: protocol.OpQuit, noForward: true, canned: "+OK\r\n"})
}

func lookup(name []byte) (uint8, *cmdProps, bool) {
	idx, ok := cmdIndex[string(name)]
	if !ok {
		return 0, nil, false
	}
	return idx, &cmdTable[idx], true
}
