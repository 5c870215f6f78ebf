// Package kfake is a minimal in-process Kafka broker, listening on a
// real loopback TCP socket, that speaks just enough of the wire
// protocol (Produce, Metadata, ApiVersions, all version 0) to exercise
// kgo.Client end to end without a real Kafka cluster.
//
// It is not a faithful broker: there is one node, topics are
// auto-created with a fixed partition count on first reference unless
// pre-seeded, and nothing is persisted to disk. It exists for tests.
package kfake

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/synckafka/synckafka/kgo/kbin"
)

// Cluster is a single fake broker.
type Cluster struct {
	nodeID int32
	host   string
	port   int32

	ln net.Listener

	defaultPartitions int

	mu     sync.Mutex
	topics map[string]*fakeTopic

	die       chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type fakeTopic struct {
	mu         sync.Mutex
	partitions map[int32]*fakePartition
}

type fakePartition struct {
	mu         sync.Mutex
	nextOffset int64
}

// Opt configures NewCluster.
type Opt interface {
	apply(*Cluster)
}

type opt struct{ fn func(*Cluster) }

func (o opt) apply(c *Cluster) { o.fn(c) }

// NodeID overrides the fake broker's node ID, which defaults to 0.
func NodeID(id int32) Opt {
	return opt{func(c *Cluster) { c.nodeID = id }}
}

// DefaultPartitions overrides how many partitions a topic is
// auto-created with the first time it is referenced by a Metadata or
// Produce request, which defaults to 1.
func DefaultPartitions(n int) Opt {
	return opt{func(c *Cluster) { c.defaultPartitions = n }}
}

// SeedTopic pre-creates a topic with the given partition count, so that
// a Metadata call for it does not depend on auto-creation timing.
func SeedTopic(topic string, partitions int) Opt {
	return opt{func(c *Cluster) { c.topic(topic, partitions) }}
}

// NewCluster starts a fake broker listening on 127.0.0.1 on a random
// free port and returns once it is accepting connections.
func NewCluster(opts ...Opt) (*Cluster, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		nodeID:            0,
		ln:                ln,
		defaultPartitions: 1,
		topics:            make(map[string]*fakeTopic),
		die:               make(chan struct{}),
	}
	host, port := ln.Addr().(*net.TCPAddr).IP.String(), ln.Addr().(*net.TCPAddr).Port
	c.host, c.port = host, int32(port)

	for _, o := range opts {
		o.apply(c)
	}

	c.wg.Add(1)
	go c.acceptLoop()

	return c, nil
}

// Addr returns the host:port the fake broker is listening on.
func (c *Cluster) Addr() string { return net.JoinHostPort(c.host, strconv.Itoa(int(c.port))) }

// Close stops accepting connections and closes every open connection.
func (c *Cluster) Close() {
	c.closeOnce.Do(func() {
		close(c.die)
		c.ln.Close()
	})
	c.wg.Wait()
}

func (c *Cluster) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			select {
			case <-c.die:
				return
			default:
				continue
			}
		}
		connDone := make(chan struct{})
		c.wg.Add(2)
		go func() {
			defer c.wg.Done()
			defer close(connDone)
			c.handleConn(conn)
		}()
		go func() {
			defer c.wg.Done()
			select {
			case <-c.die:
				conn.Close()
			case <-connDone:
			}
		}()
	}
}

// topic returns the named topic, auto-creating it with n partitions
// (using the cluster default if n <= 0) if it does not already exist.
func (c *Cluster) topic(name string, n int) *fakeTopic {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.topics[name]; ok {
		return t
	}
	if n <= 0 {
		n = c.defaultPartitions
	}
	t := &fakeTopic{partitions: make(map[int32]*fakePartition, n)}
	for i := int32(0); i < int32(n); i++ {
		t.partitions[i] = &fakePartition{}
	}
	c.topics[name] = t
	return t
}

func (c *Cluster) allTopicNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.topics))
	for name := range c.topics {
		names = append(names, name)
	}
	return names
}

func (c *Cluster) handleConn(conn net.Conn) {
	defer conn.Close()

	sizeBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, sizeBuf); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(sizeBuf)
		body := make([]byte, size)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		resp, corr, err := c.dispatch(body)
		if err != nil {
			return
		}

		out := make([]byte, 0, 8+len(resp))
		out = append(out, 0, 0, 0, 0) // length, patched below
		out = kbin.AppendInt32(out, corr)
		out = append(out, resp...)
		binary.BigEndian.PutUint32(out[:4], uint32(len(out)-4))

		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}
