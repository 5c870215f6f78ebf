package kgo

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// topicPartitionKey identifies one partition of one topic, the key
// the metadata cache is indexed by.
type topicPartitionKey struct {
	topic     string
	partition int32
}

// cachedLeader is one entry in the metadata cache: the broker identity
// believed to lead a (topic, partition), and when that belief was last
// refreshed.
type cachedLeader struct {
	brokerID    int32
	addr        string
	refreshedAt time.Time
}

// metadataCache is a size-bounded (topic, partition) -> leader cache.
// A miss (including an LRU eviction) triggers a metadata refresh;
// concurrent misses for the same topic are single-flighted so that many
// callers racing to learn about a topic for the first time produce one
// metadata request, not one each.
type metadataCache struct {
	cl *Client

	cache *lru.Cache // topicPartitionKey -> cachedLeader

	mu       sync.Mutex
	inflight map[string]chan struct{} // topic -> refresh-done signal
}

func newMetadataCache(cl *Client, size int) *metadataCache {
	c, _ := lru.New(size)
	return &metadataCache{
		cl:       cl,
		cache:    c,
		inflight: make(map[string]chan struct{}),
	}
}

// leaderFor returns the broker believed to lead (topic, partition),
// refreshing metadata from the cluster on a cache miss.
func (m *metadataCache) leaderFor(ctx context.Context, topic string, partition int32) (*broker, error) {
	key := topicPartitionKey{topic, partition}
	if v, ok := m.cache.Get(key); ok {
		cl := v.(cachedLeader)
		return m.cl.brokerFor(cl.brokerID, cl.addr), nil
	}

	if err := m.refresh(ctx, topic); err != nil {
		return nil, err
	}

	v, ok := m.cache.Get(key)
	if !ok {
		return nil, ErrUnknownTopicOrPartition
	}
	cl := v.(cachedLeader)
	return m.cl.brokerFor(cl.brokerID, cl.addr), nil
}

// invalidate evicts a cached leader, forcing the next lookup for that
// (topic, partition) to refresh metadata rather than trust a leader a
// broker has just told us it no longer is.
func (m *metadataCache) invalidate(topic string, partition int32) {
	m.cache.Remove(topicPartitionKey{topic, partition})
}

// refresh fetches metadata for topic from any known broker and
// populates the cache with every partition it describes. Concurrent
// refreshes of the same topic share one metadata request: a caller that
// arrives while a refresh is already in flight waits on it rather than
// starting a second one.
func (m *metadataCache) refresh(ctx context.Context, topic string) error {
	m.mu.Lock()
	if done, ok := m.inflight[topic]; ok {
		m.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ErrNetworkTimeout
		}
	}
	done := make(chan struct{})
	m.inflight[topic] = done
	m.mu.Unlock()

	err := m.doRefresh(ctx, topic)

	m.mu.Lock()
	delete(m.inflight, topic)
	m.mu.Unlock()
	close(done)

	return err
}

func (m *metadataCache) doRefresh(ctx context.Context, topic string) error {
	resp, err := m.cl.fetchMetadata(ctx, []string{topic})
	if err != nil {
		return err
	}

	for _, t := range resp.topics {
		if t.topic != topic {
			continue
		}
		if berr := errorForCode(t.topic, -1, t.errCode); berr != nil {
			return berr
		}
		for _, p := range t.partitions {
			if p.errCode != 0 {
				continue // leave any previously cached entry alone
			}
			addr := brokerAddr(resp.brokers, p.leader)
			if addr == "" {
				continue
			}
			m.cache.Add(topicPartitionKey{t.topic, p.partition}, cachedLeader{
				brokerID:    p.leader,
				addr:        addr,
				refreshedAt: time.Now(),
			})
		}
	}
	return nil
}

// brokerAddr finds the host:port for a broker node ID within a
// metadata response's broker list.
func brokerAddr(brokers []metadataResponseBroker, id int32) string {
	for _, b := range brokers {
		if b.nodeID == id {
			return net.JoinHostPort(b.host, strconv.Itoa(int(b.port)))
		}
	}
	return ""
}
