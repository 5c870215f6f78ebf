package kgo

import (
	"errors"
	"fmt"

	"github.com/synckafka/synckafka/kgo/kerr"
)

// Local, non-protocol errors: these never come from a broker response;
// they describe failures in the transport or codec layers themselves.
var (
	// errClientClosing is returned to any queued or new request once its
	// broker connection has been torn down, whether by Client.Close or
	// by a connection error such as a correlation ID mismatch.
	errClientClosing = errors.New("kgo: client is closing")

	// errCorrelationIDMismatch is returned, and the owning broker
	// connection torn down, when a response's correlation ID does not
	// match the request at the head of the in-flight queue. This
	// indicates either a broker bug or a framing desync and is not
	// recoverable for that connection.
	errCorrelationIDMismatch = errors.New("kgo: response correlation ID did not match the oldest in-flight request")

	errNotEnoughData = errors.New("kgo: response did not contain enough data to be valid")
	errNoBrokers     = errors.New("kgo: all connections to all brokers have died")
	errInvalidResp   = errors.New("kgo: invalid response")

	// ErrNetworkFail wraps a transport-level failure (dial error, read
	// error, unexpected EOF) on a broker connection.
	ErrNetworkFail = errors.New("kgo: network failure talking to broker")

	// ErrNetworkTimeout is returned when a caller's wait for a response
	// exceeds its configured timeout. Per design, the underlying
	// InFlightRequest is left on the broker's queue; the caller simply
	// stops waiting for it.
	ErrNetworkTimeout = errors.New("kgo: timed out waiting for broker response")

	// ErrEncoding is returned when a request body could not be encoded.
	// It fails only the single offending request; the broker connection
	// and every other in-flight request are unaffected.
	ErrEncoding = errors.New("kgo: failed to encode request body")

	// ErrDecoding is returned when a response body could not be parsed
	// from the bytes a broker sent.
	ErrDecoding = errors.New("kgo: failed to decode response body")

	// ErrMessageSetFull is returned by MessageSet.Push when adding a
	// record would push the worst-case compressed size of the set past
	// its configured maximum.
	ErrMessageSetFull = errors.New("kgo: message set is full")

	// ErrBadConfig is returned from NewClient when the supplied options
	// describe an invalid configuration.
	ErrBadConfig = errors.New("kgo: invalid configuration")

	// ErrUnknownTopicOrPartition is returned by the metadata cache and by
	// Produce when the cluster has no leader on record for the requested
	// (topic, partition) and a refresh did not find one either.
	ErrUnknownTopicOrPartition = errors.New("kgo: unknown topic or partition")
)

// BrokerError wraps a protocol-level error code returned in a response's
// error_code field, alongside what it applies to. Use errors.As to
// extract one from an error returned by Produce or
// CheckTopicPartitionLeaderAvailable.
type BrokerError struct {
	// Topic and Partition identify what the error applies to. Partition
	// is -1 if the error is not partition-scoped (e.g. a whole-request
	// metadata error).
	Topic     string
	Partition int32

	// Err is the underlying *kerr.Error, carrying the numeric code and
	// Retriable bit.
	Err error
}

func (e *BrokerError) Error() string {
	if e.Partition < 0 {
		return fmt.Sprintf("kgo: broker error for topic %q: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("kgo: broker error for topic %q partition %d: %v", e.Topic, e.Partition, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// Retriable reports whether the broker considers the wrapped error
// transient (leadership churn, in-progress load, etc.).
func (e *BrokerError) Retriable() bool { return kerr.IsRetriable(e.Err) }

// errorForCode builds a BrokerError from a raw wire error code, or
// returns nil if code is 0 (no_error).
func errorForCode(topic string, partition int32, code int16) error {
	err := kerr.ErrorForCode(code)
	if err == nil {
		return nil
	}
	return &BrokerError{Topic: topic, Partition: partition, Err: err}
}
