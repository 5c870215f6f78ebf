package kgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// cxnState is the lifecycle of one broker TCP connection, named after
// the explicit state machine a connection actor walks through: it
// starts uninitialized, dials out, and either reaches a steady
// connected state or dies trying.
type cxnState int32

const (
	cxnInit cxnState = iota
	cxnConnecting
	cxnConnected
	cxnClosed
)

func (s cxnState) String() string {
	switch s {
	case cxnInit:
		return "init"
	case cxnConnecting:
		return "connecting"
	case cxnConnected:
		return "connected"
	case cxnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// respHandlerState is the lifecycle of the read side of a connection as
// it processes one response at a time: idle between responses, reading
// the fixed 4-byte size prefix, then reading the variable-length body
// that prefix announced.
type respHandlerState int32

const (
	respHandlerIdle respHandlerState = iota
	respHandlerReadHeader
	respHandlerReadResp
)

// promisedReq is a request queued for a brokerCxn's write goroutine,
// alongside the promise its caller is blocked on.
type promisedReq struct {
	req     requestBody
	promise func(responseBody, error)
}

// promisedResp is an in-flight request that has been written to the
// wire and is now queued for the read goroutine to match a response
// against, in strict FIFO order.
type promisedResp struct {
	correlationID int32
	resp          responseBody
	promise       func(responseBody, error)
	sentAt        time.Time
}

// brokerCxn owns a single TCP connection to one broker. It is the sole
// writer and sole reader of that socket; every other goroutine in the
// process reaches the socket only by sending a promisedReq down reqs
// and blocking on the promise it supplied. This single-writer,
// single-reader design is what lets many caller goroutines pipeline
// requests over one socket without any of them touching it directly.
type brokerCxn struct {
	cl   *Client
	addr string

	conn net.Conn

	state     int32 // cxnState, accessed atomically
	respState int32 // respHandlerState, accessed atomically

	reqs  chan promisedReq
	resps chan promisedResp

	// apiVersions is set once dial completes an ApiVersions handshake.
	// It is informational only, per the doc note on apiVersionsResponse:
	// nothing in this client branches on it, but it is useful to a
	// Logger and worth having learned.
	apiVersions *apiVersionsResponse

	nextCorrelationID int32 // see design note on wraparound in nextID

	dieMu sync.RWMutex
	dead  int64 // atomic
}

func newBrokerCxn(cl *Client, addr string) *brokerCxn {
	return &brokerCxn{cl: cl, addr: addr, state: int32(cxnInit)}
}

func (c *brokerCxn) loadState() cxnState    { return cxnState(atomic.LoadInt32(&c.state)) }
func (c *brokerCxn) storeState(s cxnState)  { atomic.StoreInt32(&c.state, int32(s)) }
func (c *brokerCxn) storeRespState(s respHandlerState) {
	atomic.StoreInt32(&c.respState, int32(s))
}

// nextID returns the next correlation ID to assign a request, wrapping
// from math.MaxInt32 back to 0 rather than erroring. A connection would
// need north of two billion requests to ever observe the wrap; the
// logic is still explicit and tested rather than left to silent int32
// overflow, per design note.
func (c *brokerCxn) nextID() int32 {
	id := c.nextCorrelationID
	if id == math.MaxInt32 {
		c.nextCorrelationID = 0
	} else {
		c.nextCorrelationID = id + 1
	}
	return id
}

// dial opens the underlying socket and starts the write-side actor
// goroutine (which itself starts the read-side actor goroutine once
// connected). It is called at most once per brokerCxn.
func (c *brokerCxn) dial(ctx context.Context) error {
	c.storeState(cxnConnecting)

	dialStart := time.Now()
	conn, err := c.cl.cfg.dialFunc(ctx, c.addr)
	dialDur := time.Since(dialStart)

	c.cl.cfg.hooks.each(func(h Hook) {
		if h, ok := h.(HookBrokerConnect); ok {
			h.OnConnect(c.addr, dialDur, conn, err)
		}
	})

	if err != nil {
		c.storeState(cxnClosed)
		if ctx.Err() == context.DeadlineExceeded {
			c.cl.log.Log(LogLevelWarn, "timed out connecting to broker", "addr", c.addr, "err", err)
			return fmt.Errorf("%w: dial %s: %v", ErrNetworkTimeout, c.addr, err)
		}
		c.cl.log.Log(LogLevelWarn, "failed to connect to broker", "addr", c.addr, "err", err)
		return fmt.Errorf("%w: dial %s: %v", ErrNetworkFail, c.addr, err)
	}
	c.cl.log.Log(LogLevelInfo, "connected to broker", "addr", c.addr, "dial_dur", dialDur)

	c.conn = conn
	c.reqs = make(chan promisedReq, 16)
	c.resps = make(chan promisedResp, 16)
	c.storeState(cxnConnected)
	c.storeRespState(respHandlerIdle)

	go c.handleReqs()

	// Speak ApiVersions first, the way the newer generation of this
	// client does, even though this client only ever sends version 0 of
	// every RPC regardless of what comes back. A bare Kafka 0.8 broker
	// does not know API key 18 and will simply fail or ignore it; that
	// is not fatal here, since nothing downstream depends on the
	// answer.
	resp, err := c.call(ctx, &apiVersionsRequest{})
	if err != nil {
		c.cl.log.Log(LogLevelDebug, "ApiVersions handshake failed, assuming a bare 0.8 broker", "addr", c.addr, "err", err)
	} else {
		c.apiVersions = resp.(*apiVersionsResponse)
		c.cl.log.Log(LogLevelDebug, "ApiVersions handshake complete", "addr", c.addr, "num_keys", len(c.apiVersions.keys))
	}

	return nil
}

// die tears the connection down exactly once: it closes the socket,
// transitions to cxnClosed, and fails every request still waiting on
// reqs or resps with errClientClosing. Requests that already timed out
// from their caller's perspective (the caller stopped waiting) still
// have their promise invoked here; the promise simply has nobody
// listening on the other end by then, per the design decision to leave
// timed-out requests on the queue rather than pop them early.
func (c *brokerCxn) die() {
	if atomic.SwapInt64(&c.dead, 1) == 1 {
		return
	}

	c.storeState(cxnClosed)
	c.conn.Close()
	c.cl.log.Log(LogLevelInfo, "broker connection closed", "addr", c.addr)

	c.cl.cfg.hooks.each(func(h Hook) {
		if h, ok := h.(HookBrokerDisconnect); ok {
			h.OnDisconnect(c.addr, c.conn)
		}
	})

	go func() {
		for pr := range c.reqs {
			pr.promise(nil, errClientClosing)
		}
	}()
	go func() {
		for pr := range c.resps {
			pr.promise(nil, errClientClosing)
		}
	}()

	c.dieMu.Lock()
	c.dieMu.Unlock()

	close(c.reqs)
}

// do enqueues req for this connection to write, invoking promise with
// the eventual response or error. It returns immediately; promise may
// be called from a different goroutine at any later time, including
// after do returns.
func (c *brokerCxn) do(req requestBody, promise func(responseBody, error)) {
	c.dieMu.RLock()
	if atomic.LoadInt64(&c.dead) == 0 {
		c.reqs <- promisedReq{req, promise}
	} else {
		promise(nil, errClientClosing)
	}
	c.dieMu.RUnlock()
}

// call is the synchronous form of do: it blocks until promise fires or
// ctx is done. If ctx finishes first, call returns ErrNetworkTimeout
// immediately and does not touch the in-flight queue entry; per design
// note, that entry is simply left on the queue and its promise — which
// nobody will read from again — still fires when the response arrives
// or the connection dies.
func (c *brokerCxn) call(ctx context.Context, req requestBody) (responseBody, error) {
	done := make(chan struct{})
	var resp responseBody
	var err error
	c.do(req, func(r responseBody, e error) {
		resp, err = r, e
		close(done)
	})
	select {
	case <-done:
		return resp, err
	case <-ctx.Done():
		return nil, ErrNetworkTimeout
	}
}

type errWrite struct {
	wrote int
	err   error
}

func (e *errWrite) Error() string {
	return fmt.Sprintf("kgo: wrote %d bytes then failed: %v", e.wrote, e.err)
}

// handleReqs is the write side of the connection actor. It assigns
// correlation IDs at the moment a request is dequeued (not when it is
// enqueued), encodes and writes each request in turn, and hands the
// expected response shape off to handleResps via resps in the same
// order requests were written — preserving the FIFO invariant the read
// side relies on.
//
// An encode failure here fails only the one offending request and
// continues the loop; per design note, it does not tear down the
// connection or affect any other in-flight request. None of the
// requestBody implementations this client ships can actually panic
// mid-append — the recover is a backstop for any future one that
// does (a request type that, say, validates a field and panics on a
// malformed value), so that class of bug degrades to one failed
// produce call instead of killing the connection for every in-flight
// request sharing it.
func (c *brokerCxn) handleReqs() {
	defer c.die()

	go c.handleResps()
	defer close(c.resps)

	var buf []byte
	for pr := range c.reqs {
		correlationID := c.nextID()

		encodeFailed := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					encodeFailed = true
					pr.promise(nil, fmt.Errorf("%w: %v", ErrEncoding, r))
				}
			}()
			buf = appendRequest(buf[:0], pr.req, correlationID, c.cl.cfg.clientID)
		}()
		if encodeFailed {
			continue
		}

		writeStart := time.Now()
		n, err := c.conn.Write(buf)
		writeDur := time.Since(writeStart)

		c.cl.cfg.hooks.each(func(h Hook) {
			if h, ok := h.(HookBrokerWrite); ok {
				h.OnWrite(c.addr, pr.req.key(), n, writeDur, err)
			}
		})

		if err != nil {
			pr.promise(nil, fmt.Errorf("%w: %v", ErrNetworkFail, &errWrite{n, err}))
			return
		}

		c.resps <- promisedResp{
			correlationID: correlationID,
			resp:          pr.req.responseKind(),
			promise:       pr.promise,
			sentAt:        writeStart,
		}
	}
}

// handleResps is the read side of the connection actor. It walks the
// Idle -> ReadHeader -> ReadResp states for each response in turn,
// matching every arriving response against the oldest entry in resps:
// the 0.8 protocol guarantees in-order responses on a connection, so a
// mismatched correlation ID means the connection is desynced and must
// die rather than be trusted further.
func (c *brokerCxn) handleResps() {
	defer c.die()

	sizeBuf := make([]byte, 4)
	var buf []byte
	for pr := range c.resps {
		c.storeRespState(respHandlerReadHeader)

		readStart := time.Now()
		if _, err := io.ReadFull(c.conn, sizeBuf); err != nil {
			c.reportRead(pr, 0, time.Since(readStart), err)
			pr.promise(nil, fmt.Errorf("%w: %v", ErrNetworkFail, err))
			return
		}
		size := int32(binary.BigEndian.Uint32(sizeBuf))
		if size < 4 {
			c.reportRead(pr, 4, time.Since(readStart), errInvalidResp)
			pr.promise(nil, errInvalidResp)
			return
		}

		c.storeRespState(respHandlerReadResp)

		buf = append(buf[:0], make([]byte, size)...)
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			c.reportRead(pr, 4, time.Since(readStart), err)
			pr.promise(nil, fmt.Errorf("%w: %v", ErrNetworkFail, err))
			return
		}
		c.reportRead(pr, 4+len(buf), time.Since(readStart), nil)

		if len(buf) < 4 {
			pr.promise(nil, errNotEnoughData)
			c.storeRespState(respHandlerIdle)
			continue
		}
		correlationID := int32(binary.BigEndian.Uint32(buf))
		body := buf[4:]

		if correlationID != pr.correlationID {
			pr.promise(nil, errCorrelationIDMismatch)
			return
		}

		if err := pr.resp.readFrom(body); err != nil {
			pr.promise(nil, fmt.Errorf("%w: %v", ErrDecoding, err))
		} else {
			pr.promise(pr.resp, nil)
		}
		c.storeRespState(respHandlerIdle)
	}
}

func (c *brokerCxn) reportRead(pr promisedResp, n int, dur time.Duration, err error) {
	c.cl.cfg.hooks.each(func(h Hook) {
		if h, ok := h.(HookBrokerRead); ok {
			h.OnRead(c.addr, n, dur, err)
		}
	})
}
