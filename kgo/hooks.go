package kgo

import (
	"net"
	"time"
)

// Hook is a marker interface for types that can observe client
// internals. A concrete hook implements one or more of the interfaces
// below (HookBrokerConnect, HookBrokerWrite, ...) and is registered
// with WithHooks; the client type-asserts against each interface at
// the relevant instrumentation point and calls whichever match.
//
// This lets an external collaborator — a Prometheus exporter, say —
// observe connects, writes, reads, and produce calls without the core
// client importing or depending on it at all.
type Hook interface{}

type hooks []Hook

// each calls fn for every registered hook. It exists so call sites read
// as a single line rather than a three-line loop everywhere a hook
// might fire.
func (hs hooks) each(fn func(Hook)) {
	for _, h := range hs {
		fn(h)
	}
}

// HookBrokerConnect is called after every dial attempt to a broker,
// successful or not.
type HookBrokerConnect interface {
	OnConnect(addr string, dialDur time.Duration, conn net.Conn, err error)
}

// HookBrokerDisconnect is called when a broker connection is torn down,
// whether due to an error or a client Close.
type HookBrokerDisconnect interface {
	OnDisconnect(addr string, conn net.Conn)
}

// HookBrokerWrite is called after every request write attempt to a
// broker, successful or not.
type HookBrokerWrite interface {
	OnWrite(addr string, apiKey int16, bytesWritten int, writeDur time.Duration, err error)
}

// HookBrokerRead is called after every response read attempt from a
// broker, successful or not.
type HookBrokerRead interface {
	OnRead(addr string, bytesRead int, readDur time.Duration, err error)
}

// HookProduce is called after a Produce call to a broker completes,
// successful or not.
type HookProduce interface {
	OnProduce(topic string, partition int32, bytes int, dur time.Duration, err error)
}
