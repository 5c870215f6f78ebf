package kgo

import (
	"context"
	"sync"
)

// broker is one broker's identity plus its lazily-established
// connection. A Client holds one broker per cluster member it has
// learned about (from seeds or from metadata responses); the
// underlying brokerCxn is not dialed until the first call routed to
// it.
type broker struct {
	cl *Client

	id   int32
	addr string

	mu  sync.Mutex
	cxn *brokerCxn // nil until connect succeeds
}

func (cl *Client) brokerFor(id int32, addr string) *broker {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if b, ok := cl.brokersByAddr[addr]; ok {
		return b
	}
	b := &broker{cl: cl, id: id, addr: addr}
	cl.brokersByID[id] = b
	cl.brokersByAddr[addr] = b
	return b
}

// connection returns the broker's live connection, dialing one if this
// is the first use or the previous connection died.
func (b *broker) connection(ctx context.Context) (*brokerCxn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cxn != nil && b.cxn.loadState() != cxnClosed {
		return b.cxn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.cl.cfg.connectTimeout)
	defer cancel()

	cxn := newBrokerCxn(b.cl, b.addr)
	if err := cxn.dial(dialCtx); err != nil {
		return nil, err
	}
	b.cxn = cxn
	return cxn, nil
}

// call sends req to this broker and blocks for its response, dialing a
// connection first if needed. The context governs both the dial (if
// any) and the wait for the response.
func (b *broker) call(ctx context.Context, req requestBody) (responseBody, error) {
	cxn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}
	return cxn.call(ctx, req)
}

// close tears down this broker's connection, if one is live. Any
// request still in flight on it fails with errClientClosing.
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cxn != nil {
		b.cxn.die()
	}
}
