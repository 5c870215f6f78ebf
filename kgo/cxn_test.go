package kgo

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"testing"
	"time"
)

func newTestCxn(conn net.Conn) *brokerCxn {
	cl := &Client{cfg: cfg{clientID: new(string)}, log: &wrappedLogger{}}
	cxn := &brokerCxn{
		cl:    cl,
		addr:  "test",
		conn:  conn,
		reqs:  make(chan promisedReq, 4),
		resps: make(chan promisedResp, 4),
	}
	cxn.storeState(cxnConnected)
	cxn.storeRespState(respHandlerIdle)
	return cxn
}

// readFrame reads one length-prefixed request frame off conn and
// returns its correlation ID and body (everything after the header).
func readFrame(t *testing.T, conn net.Conn) (corr int32, body []byte) {
	t.Helper()
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, sizeBuf); err != nil {
		t.Fatalf("reading frame size: %v", err)
	}
	size := binary.BigEndian.Uint32(sizeBuf)
	buf := make([]byte, size)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("reading frame body: %v", err)
	}
	// key(2) version(2) corr(4) clientID(nullable string)
	corr = int32(binary.BigEndian.Uint32(buf[4:8]))
	cidLen := int16(binary.BigEndian.Uint16(buf[8:10]))
	hdrLen := 10
	if cidLen > 0 {
		hdrLen += int(cidLen)
	}
	return corr, buf[hdrLen:]
}

// writeEmptyMetadataResponse writes a response frame for corr carrying
// an empty metadataResponse (no brokers, no topics).
func writeEmptyMetadataResponse(t *testing.T, conn net.Conn, corr int32) {
	t.Helper()
	body := make([]byte, 0, 12)
	body = append(body, 0, 0, 0, 0) // correlation ID, patched below
	body = append(body, 0, 0, 0, 0) // brokers array len 0
	body = append(body, 0, 0, 0, 0) // topics array len 0
	binary.BigEndian.PutUint32(body[:4], uint32(corr))

	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	out = append(out, body...)
	if _, err := conn.Write(out); err != nil {
		t.Fatalf("writing response: %v", err)
	}
}

func TestNextIDWrapsPastMaxInt32(t *testing.T) {
	cxn := &brokerCxn{nextCorrelationID: math.MaxInt32}
	if id := cxn.nextID(); id != math.MaxInt32 {
		t.Fatalf("expected %d, got %d", math.MaxInt32, id)
	}
	if id := cxn.nextID(); id != 0 {
		t.Fatalf("expected wraparound to 0, got %d", id)
	}
}

// panicRequest is a requestBody whose appendTo always panics, used to
// exercise the encode-failure path in handleReqs.
type panicRequest struct{}

func (panicRequest) key() int16                 { return 99 }
func (panicRequest) appendTo([]byte) []byte      { panic("boom") }
func (panicRequest) responseKind() responseBody { return new(metadataResponse) }

func TestEncodeFailureFailsOnlyThatRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cxn := newTestCxn(client)
	go cxn.handleReqs()

	panicDone := make(chan error, 1)
	cxn.do(panicRequest{}, func(_ responseBody, err error) { panicDone <- err })

	select {
	case err := <-panicDone:
		if !errors.Is(err, ErrEncoding) {
			t.Fatalf("expected ErrEncoding, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the panicking request's promise")
	}

	okDone := make(chan struct{})
	var gotErr error
	cxn.do(&metadataRequest{}, func(_ responseBody, err error) {
		gotErr = err
		close(okDone)
	})

	corr, _ := readFrame(t, server)
	writeEmptyMetadataResponse(t, server, corr)

	select {
	case <-okDone:
		if gotErr != nil {
			t.Fatalf("expected the connection to survive the earlier encode failure, got %v", gotErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the follow-up request; connection appears to have died")
	}
}

func TestCorrelationMismatchKillsConnection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cxn := newTestCxn(client)
	go cxn.handleReqs()

	done := make(chan error, 1)
	cxn.do(&metadataRequest{}, func(_ responseBody, err error) { done <- err })

	corr, _ := readFrame(t, server)
	writeEmptyMetadataResponse(t, server, corr+1) // deliberately wrong

	select {
	case err := <-done:
		if !errors.Is(err, errCorrelationIDMismatch) {
			t.Fatalf("expected errCorrelationIDMismatch, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the mismatched response's promise")
	}

	// The connection must now be dead: a further request fails fast
	// rather than hanging. Depending on how far die() has gotten, the
	// request either never reaches the write loop (errClientClosing) or
	// reaches it just as the socket is closing (ErrNetworkFail); both
	// are the dead-connection outcome this asserts.
	failed := make(chan error, 1)
	cxn.do(&metadataRequest{}, func(_ responseBody, err error) { failed <- err })
	select {
	case err := <-failed:
		if !errors.Is(err, errClientClosing) && !errors.Is(err, ErrNetworkFail) {
			t.Fatalf("expected errClientClosing or ErrNetworkFail on a dead connection, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the dead connection to reject a new request")
	}
}

func TestCallTimeoutLeavesQueueEntryAbsorbed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cxn := newTestCxn(client)
	go cxn.handleReqs()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := cxn.call(ctx, &metadataRequest{})
	if !errors.Is(err, ErrNetworkTimeout) {
		t.Fatalf("expected ErrNetworkTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("call should return promptly on ctx timeout, took %v", elapsed)
	}

	// The request is still sitting on the wire; reply to it late, as the
	// real broker eventually would. Nothing should panic or block even
	// though nobody is listening on the promise anymore.
	corr, _ := readFrame(t, server)
	writeEmptyMetadataResponse(t, server, corr)

	// The connection should still be usable for a fresh call afterward.
	freshDone := make(chan error, 1)
	go func() {
		_, err := cxn.call(context.Background(), &metadataRequest{})
		freshDone <- err
	}()

	corr2, _ := readFrame(t, server)
	writeEmptyMetadataResponse(t, server, corr2)

	select {
	case err := <-freshDone:
		if err != nil {
			t.Fatalf("expected the connection to remain usable after an absorbed timeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the fresh call after an absorbed timeout")
	}
}
