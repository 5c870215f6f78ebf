package kfake

import (
	"errors"

	"github.com/synckafka/synckafka/kgo"
	"github.com/synckafka/synckafka/kgo/kbin"
)

var errUnknownKey = errors.New("kfake: unknown request key")

// dispatch parses a request (header + body, as handleConn read it off
// the wire) and returns the encoded response body (header-less: just
// the bytes that follow the correlation ID) and the correlation ID to
// echo back.
func (c *Cluster) dispatch(req []byte) (resp []byte, corr int32, err error) {
	b := kbin.Reader{Src: req}
	key := b.Int16()
	b.Int16() // version: this broker only ever sees version 0 requests
	corr = b.Int32()
	b.NullableString() // client ID, unused
	body := b.Src
	if !b.Ok() {
		return nil, corr, errInvalidRequest
	}

	switch key {
	case 0:
		return c.handleProduce(body), corr, nil
	case 3:
		return c.handleMetadata(body), corr, nil
	case 18:
		return c.handleAPIVersions(body), corr, nil
	default:
		return nil, corr, errUnknownKey
	}
}

var errInvalidRequest = errors.New("kfake: malformed request")

// ********** PRODUCE **********

func (c *Cluster) handleProduce(body []byte) []byte {
	b := kbin.Reader{Src: body}
	b.Int16() // acks, unused: the fake broker always durably "writes" in process
	b.Int32() // timeout ms, unused

	var out []byte
	topicCount := b.ArrayLen()
	out = kbin.AppendArrayLen(out, int(topicCount))
	for i := int32(0); i < topicCount; i++ {
		topic := b.String()
		out = kbin.AppendString(out, topic)

		partCount := b.ArrayLen()
		out = kbin.AppendArrayLen(out, int(partCount))
		for j := int32(0); j < partCount; j++ {
			partition := b.Int32()
			messageSet := b.Bytes()

			out = kbin.AppendInt32(out, partition)

			t := c.topic(topic, 0)
			t.mu.Lock()
			p, ok := t.partitions[partition]
			t.mu.Unlock()
			if !ok {
				out = kbin.AppendInt16(out, 3) // UNKNOWN_TOPIC_OR_PARTITION
				out = kbin.AppendInt64(out, -1)
				continue
			}

			recs, err := kgo.DecodeMessageSet(messageSet)
			if err != nil {
				out = kbin.AppendInt16(out, 2) // CORRUPT_MESSAGE
				out = kbin.AppendInt64(out, -1)
				continue
			}

			p.mu.Lock()
			base := p.nextOffset
			p.nextOffset += int64(len(recs))
			p.mu.Unlock()

			out = kbin.AppendInt16(out, 0)
			out = kbin.AppendInt64(out, base)
		}
	}
	return out
}

// ********** METADATA **********

func (c *Cluster) handleMetadata(body []byte) []byte {
	b := kbin.Reader{Src: body}

	var requested []string
	n := b.ArrayLen()
	if n > 0 {
		requested = make([]string, 0, n)
		for i := int32(0); i < n; i++ {
			requested = append(requested, b.String())
		}
	} else {
		// An empty (or null) topic array means "every topic", matching
		// how metadataRequest.appendTo encodes a nil/empty topics slice.
		requested = c.allTopicNames()
	}

	var out []byte
	out = kbin.AppendArrayLen(out, 1)
	out = kbin.AppendInt32(out, c.nodeID)
	out = kbin.AppendString(out, c.host)
	out = kbin.AppendInt32(out, c.port)

	out = kbin.AppendArrayLen(out, len(requested))
	for _, topic := range requested {
		t := c.topic(topic, 0)

		out = kbin.AppendInt16(out, 0) // no topic-level error; auto-created on demand
		out = kbin.AppendString(out, topic)

		t.mu.Lock()
		partitions := make([]int32, 0, len(t.partitions))
		for p := range t.partitions {
			partitions = append(partitions, p)
		}
		t.mu.Unlock()

		out = kbin.AppendArrayLen(out, len(partitions))
		for _, p := range partitions {
			out = kbin.AppendInt16(out, 0)
			out = kbin.AppendInt32(out, p)
			out = kbin.AppendInt32(out, c.nodeID) // leader
			out = kbin.AppendArrayLen(out, 1)
			out = kbin.AppendInt32(out, c.nodeID) // replicas
			out = kbin.AppendArrayLen(out, 1)
			out = kbin.AppendInt32(out, c.nodeID) // isr
		}
	}
	return out
}

// ********** API VERSIONS **********

func (c *Cluster) handleAPIVersions(_ []byte) []byte {
	var out []byte
	out = kbin.AppendInt16(out, 0) // no error
	keys := []int16{0, 3, 18}
	out = kbin.AppendArrayLen(out, len(keys))
	for _, k := range keys {
		out = kbin.AppendInt16(out, k)
		out = kbin.AppendInt16(out, 0) // min version
		out = kbin.AppendInt16(out, 0) // max version
	}
	return out
}
