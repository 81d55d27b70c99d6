package cache

import (
	"time"

	"github.com/arklim/authcore/internal/core/port"
)

// opKind is the closed set of operations the executor understands.
type opKind uint8

const (
	opGet opKind = iota
	opSet
	opSetNX
	opDelete
	opExists
	opExpire
	opHGet
	opHGetAll
	opHSet
	opCompareAndSwap
	opSAdd
	opSRem
	opSMembers
	opWindowHit
	opPing
)

var opNames = [...]string{
	opGet:            "get",
	opSet:            "set",
	opSetNX:          "setnx",
	opDelete:         "del",
	opExists:         "exists",
	opExpire:         "expire",
	opHGet:           "hget",
	opHGetAll:        "hgetall",
	opHSet:           "hset",
	opCompareAndSwap: "cas_field",
	opSAdd:           "sadd",
	opSRem:           "srem",
	opSMembers:       "smembers",
	opWindowHit:      "window_hit",
	opPing:           "ping",
}

func (k opKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return "unknown"
}

// atomic reports whether the operation needs the remote cache's atomicity and
// therefore has no local answer.
func (k opKind) atomic() bool {
	switch k {
	case opSetNX, opCompareAndSwap, opSRem, opWindowHit:
		return true
	default:
		return false
	}
}

// operation is one request to the executor. Only the fields relevant to kind are set.
type operation struct {
	kind     opKind
	key      string
	field    string
	value    []byte
	fields   map[string]string
	members  []string
	expected string
	next     string
	ttl      time.Duration
	hit      port.WindowHit
}

// reply is the union of everything an operation can return.
type reply struct {
	found   bool
	ok      bool
	n       int64
	data    []byte
	str     string
	fields  map[string]string
	members []string
	window  port.WindowReply
}
