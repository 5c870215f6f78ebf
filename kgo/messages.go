package kgo

import (
	"github.com/synckafka/synckafka/kgo/kbin"
)

// This file contains the legacy (Kafka 0.8) wire requests and responses
// this client speaks: Produce (key 0), Metadata (key 3), and ApiVersions
// (key 18, used only during the connection handshake to detect what a
// broker supports; Kafka did not add this API until 0.10, but speaking
// it is harmless against a 0.8 broker that simply won't understand it,
// and the newer generation of this library always speaks it first).
//
// Every version here is the oldest version of each RPC: the legacy
// message format (magic byte 0) this client produces and parses never
// changed across versions 0-2 of the Produce/Metadata RPCs, so there is
// no reason to negotiate anything higher.

// requestBody is implemented by every request this client can send.
type requestBody interface {
	// key is the numeric API key identifying this request.
	key() int16
	// appendTo appends this request's body (everything after the
	// request header) to dst.
	appendTo(dst []byte) []byte
	// responseKind returns a zero-value response this request expects.
	responseKind() responseBody
}

// responseBody is implemented by every response this client can parse.
type responseBody interface {
	// readFrom decodes src, a response body with the request header
	// already stripped, into the receiver.
	readFrom(src []byte) error
}

// ********** PRODUCE (key 0, version 0) **********

// produceRequest is the Produce RPC body. Acks follows the semantics of
// RequiredAcks: -1 (all in-sync replicas), 0 (no acknowledgment, fire
// and forget), or 1 (leader only).
type produceRequest struct {
	acks      int16
	timeoutMs int32
	topics    []produceRequestTopic
}

type produceRequestTopic struct {
	topic      string
	partitions []produceRequestPartition
}

type produceRequestPartition struct {
	partition int32
	// messageSet is the already-encoded wire bytes of a MessageSet, as
	// produced by MessageSet.Encode.
	messageSet []byte
}

func (*produceRequest) key() int16 { return 0 }
func (p *produceRequest) appendTo(dst []byte) []byte {
	dst = kbin.AppendInt16(dst, p.acks)
	dst = kbin.AppendInt32(dst, p.timeoutMs)
	dst = kbin.AppendArrayLen(dst, len(p.topics))
	for _, t := range p.topics {
		dst = kbin.AppendString(dst, t.topic)
		dst = kbin.AppendArrayLen(dst, len(t.partitions))
		for _, part := range t.partitions {
			dst = kbin.AppendInt32(dst, part.partition)
			dst = kbin.AppendBytes(dst, part.messageSet)
		}
	}
	return dst
}
func (p *produceRequest) responseKind() responseBody { return new(produceResponse) }

type produceResponse struct {
	topics []produceResponseTopic
}

type produceResponseTopic struct {
	topic      string
	partitions []produceResponsePartition
}

type produceResponsePartition struct {
	partition int32
	errCode   int16
	offset    int64
}

func (p *produceResponse) readFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	for i := b.ArrayLen(); i > 0; i-- {
		t := produceResponseTopic{topic: b.String()}
		for j := b.ArrayLen(); j > 0; j-- {
			t.partitions = append(t.partitions, produceResponsePartition{
				partition: b.Int32(),
				errCode:   b.Int16(),
				offset:    b.Int64(),
			})
		}
		p.topics = append(p.topics, t)
	}
	return b.Complete()
}

// ********** METADATA (key 3, version 0) **********

// metadataRequest requests broker and partition leadership information
// for the given topics. A nil or empty topics slice requests metadata
// for every topic the cluster knows about.
type metadataRequest struct {
	topics []string
}

func (*metadataRequest) key() int16 { return 3 }
func (m *metadataRequest) appendTo(dst []byte) []byte {
	if len(m.topics) == 0 {
		return kbin.AppendArrayLen(dst, 0)
	}
	dst = kbin.AppendArrayLen(dst, len(m.topics))
	for _, topic := range m.topics {
		dst = kbin.AppendString(dst, topic)
	}
	return dst
}
func (m *metadataRequest) responseKind() responseBody { return new(metadataResponse) }

type metadataResponse struct {
	brokers []metadataResponseBroker
	topics  []metadataResponseTopic
}

type metadataResponseBroker struct {
	nodeID int32
	host   string
	port   int32
}

type metadataResponseTopic struct {
	errCode    int16
	topic      string
	partitions []metadataResponsePartition
}

type metadataResponsePartition struct {
	errCode   int16
	partition int32
	leader    int32
	replicas  []int32
	isr       []int32
}

func (m *metadataResponse) readFrom(src []byte) error {
	b := kbin.Reader{Src: src}

	for i := b.ArrayLen(); i > 0; i-- {
		m.brokers = append(m.brokers, metadataResponseBroker{
			nodeID: b.Int32(),
			host:   b.String(),
			port:   b.Int32(),
		})
	}

	for i := b.ArrayLen(); i > 0; i-- {
		topic := metadataResponseTopic{
			errCode: b.Int16(),
			topic:   b.String(),
		}
		for j := b.ArrayLen(); j > 0; j-- {
			part := metadataResponsePartition{
				errCode:   b.Int16(),
				partition: b.Int32(),
				leader:    b.Int32(),
			}
			for k := b.ArrayLen(); k > 0; k-- {
				part.replicas = append(part.replicas, b.Int32())
			}
			for k := b.ArrayLen(); k > 0; k-- {
				part.isr = append(part.isr, b.Int32())
			}
			topic.partitions = append(topic.partitions, part)
		}
		m.topics = append(m.topics, topic)
	}

	return b.Complete()
}

// ********** API VERSIONS (key 18, version 0) **********

// apiVersionsRequest has an empty body; it asks a broker to enumerate
// the API keys and version ranges it supports.
type apiVersionsRequest struct{}

func (*apiVersionsRequest) key() int16                 { return 18 }
func (*apiVersionsRequest) appendTo(dst []byte) []byte  { return dst }
func (*apiVersionsRequest) responseKind() responseBody { return new(apiVersionsResponse) }

type apiVersionsResponse struct {
	errCode int16
	keys    []apiVersionsResponseKey
}

type apiVersionsResponseKey struct {
	apiKey     int16
	minVersion int16
	maxVersion int16
}

func (a *apiVersionsResponse) readFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	a.errCode = b.Int16()
	for i := b.ArrayLen(); i > 0; i-- {
		a.keys = append(a.keys, apiVersionsResponseKey{
			apiKey:     b.Int16(),
			minVersion: b.Int16(),
			maxVersion: b.Int16(),
		})
	}
	return b.Complete()
}

// appendRequest appends a full request (length prefix, header, body) to
// dst and returns the result.
func appendRequest(dst []byte, req requestBody, correlationID int32, clientID *string) []byte {
	lenAt := len(dst)
	dst = append(dst, 0, 0, 0, 0) // length, patched below
	dst = kbin.AppendInt16(dst, req.key())
	dst = kbin.AppendInt16(dst, 0) // version: always 0, see package doc
	dst = kbin.AppendInt32(dst, correlationID)
	dst = kbin.AppendNullableString(dst, clientID)
	dst = req.appendTo(dst)
	kbin.AppendInt32(dst[lenAt:lenAt], int32(len(dst)-lenAt-4))
	return dst
}
