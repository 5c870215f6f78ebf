package kgo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/synckafka/synckafka/kgo/kerr"
)

// Client is a synchronous producer client for a Kafka 0.8 wire-protocol
// broker cluster. Produce blocks the calling goroutine until the
// partition leader durably acknowledges the message set, fails with a
// concrete reason, or times out. Internally, one TCP connection per
// broker is shared and demultiplexed across every goroutine calling
// into the client concurrently; see brokerCxn for that machinery.
type Client struct {
	cfg cfg

	ctx    context.Context
	cancel context.CancelFunc

	log *wrappedLogger

	mu            sync.Mutex
	brokersByID   map[int32]*broker
	brokersByAddr map[string]*broker
	seedBrokers   []*broker

	metadata *metadataCache

	closeOnce sync.Once
}

// Close tears down every broker connection this client has opened. Any
// request still in flight fails with errClientClosing; per design,
// requests a caller had already stopped waiting on (because their own
// wait timed out first) are unaffected by this beyond their promise
// being invoked with nobody left to read it.
func (cl *Client) Close() {
	cl.closeOnce.Do(func() {
		cl.cancel()
		cl.mu.Lock()
		// brokersByAddr, not brokersByID, is the authoritative one-entry-
		// per-broker index: several seed brokers share nodeId 0 until
		// metadata assigns them real IDs, so brokersByID can alias two
		// distinct brokers onto the same key.
		brokers := make([]*broker, 0, len(cl.brokersByAddr))
		for _, b := range cl.brokersByAddr {
			brokers = append(brokers, b)
		}
		cl.mu.Unlock()
		for _, b := range brokers {
			b.close()
		}
	})
}

// anyBroker returns some broker this client already knows about,
// preferring a seed broker so metadata bootstraps deterministically on
// a fresh client.
func (cl *Client) anyBroker() (*broker, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if len(cl.seedBrokers) > 0 {
		return cl.seedBrokers[0], nil
	}
	for _, b := range cl.brokersByAddr {
		return b, nil
	}
	return nil, errNoBrokers
}

// fetchMetadata asks some known broker for metadata on the given
// topics (or every topic, if topics is empty) and returns the raw
// response for the metadata cache to digest.
func (cl *Client) fetchMetadata(ctx context.Context, topics []string) (*metadataResponse, error) {
	b, err := cl.anyBroker()
	if err != nil {
		return nil, err
	}
	resp, err := b.call(ctx, &metadataRequest{topics: topics})
	if err != nil {
		return nil, err
	}
	return resp.(*metadataResponse), nil
}

// CheckTopicPartitionLeaderAvailable resolves the current leader for
// (topic, partition) through the metadata cache, refreshing it if
// necessary, then connects to that broker (dialing it if this client
// has no live connection to it already) and returns nil only once that
// connection reaches Connected. It exists so a caller can cheaply probe
// whether Produce would have somewhere to send a batch before building
// one, without actually sending anything.
//
// Per design, if ctx is done while waiting on a metadata refresh or a
// connect, this returns ErrNetworkTimeout; any refresh already in
// flight on another goroutine's behalf is left to run to completion
// rather than canceled.
func (cl *Client) CheckTopicPartitionLeaderAvailable(ctx context.Context, topic string, partition int32) error {
	b, err := cl.metadata.leaderFor(ctx, topic, partition)
	if err != nil {
		return err
	}
	_, err = b.connection(ctx)
	return err
}

// Produce sends ms, a caller-assembled MessageSet, to the current
// leader of (topic, partition) and blocks until the broker durably
// acknowledges it (per the client's RequiredAcks setting), reports a
// concrete failure, or ctx is done.
//
// Produce does not batch, partition, retry, or buffer on the caller's
// behalf: the caller chooses the batch, the partition, and whether to
// retry a failed call. This mirrors the synchronous, single-partition-
// per-call design: there is no background goroutine silently amplifying
// one call into many requests.
func (cl *Client) Produce(ctx context.Context, topic string, partition int32, ms *MessageSet) (baseOffset int64, err error) {
	b, err := cl.metadata.leaderFor(ctx, topic, partition)
	if err != nil {
		return 0, err
	}

	encoded, err := ms.Encode()
	if err != nil {
		return 0, err
	}

	produceCtx, cancel := context.WithTimeout(ctx, cl.cfg.produceTimeout)
	defer cancel()

	start := time.Now()
	resp, err := b.call(produceCtx, &produceRequest{
		acks:      cl.cfg.acks.val,
		timeoutMs: int32(cl.cfg.produceTimeout / time.Millisecond),
		topics: []produceRequestTopic{{
			topic: topic,
			partitions: []produceRequestPartition{{
				partition:  partition,
				messageSet: encoded,
			}},
		}},
	})

	defer func() {
		cl.cfg.hooks.each(func(h Hook) {
			if h, ok := h.(HookProduce); ok {
				h.OnProduce(topic, partition, len(encoded), time.Since(start), err)
			}
		})
	}()

	if err != nil {
		return 0, err
	}

	pr := resp.(*produceResponse)
	for _, t := range pr.topics {
		if t.topic != topic {
			continue
		}
		for _, p := range t.partitions {
			if p.partition != partition {
				continue
			}
			if berr := errorForCode(topic, partition, p.errCode); berr != nil {
				cl.invalidateLeaderIfStale(topic, partition, berr)
				return 0, berr
			}
			return p.offset, nil
		}
	}
	return 0, ErrUnknownTopicOrPartition
}

// invalidateLeaderIfStale evicts a cached leader when a produce
// response indicates the cached broker is no longer (or never was) the
// leader, so the next lookup forces a metadata refresh rather than
// repeatedly hitting a broker that will keep rejecting the request.
func (cl *Client) invalidateLeaderIfStale(topic string, partition int32, err error) {
	var berr *BrokerError
	if !errors.As(err, &berr) {
		return
	}
	switch berr.Err {
	case kerr.LeaderNotAvailable, kerr.NotLeaderForPartition, kerr.UnknownTopicOrPartition:
		cl.metadata.invalidate(topic, partition)
	}
}
