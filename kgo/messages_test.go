package kgo

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/synckafka/synckafka/kgo/kbin"
)

func TestMetadataResponseRoundTrip(t *testing.T) {
	want := &metadataResponse{
		brokers: []metadataResponseBroker{
			{nodeID: 0, host: "127.0.0.1", port: 9092},
			{nodeID: 1, host: "127.0.0.1", port: 9093},
		},
		topics: []metadataResponseTopic{
			{
				topic: "orders",
				partitions: []metadataResponsePartition{
					{partition: 0, leader: 0, replicas: []int32{0, 1}, isr: []int32{0, 1}},
					{partition: 1, leader: 1, replicas: []int32{0, 1}, isr: []int32{1}},
				},
			},
		},
	}

	var encoded []byte
	encoded = kbin.AppendArrayLen(encoded, len(want.brokers))
	for _, b := range want.brokers {
		encoded = kbin.AppendInt32(encoded, b.nodeID)
		encoded = kbin.AppendString(encoded, b.host)
		encoded = kbin.AppendInt32(encoded, b.port)
	}
	encoded = kbin.AppendArrayLen(encoded, len(want.topics))
	for _, topic := range want.topics {
		encoded = kbin.AppendInt16(encoded, topic.errCode)
		encoded = kbin.AppendString(encoded, topic.topic)
		encoded = kbin.AppendArrayLen(encoded, len(topic.partitions))
		for _, p := range topic.partitions {
			encoded = kbin.AppendInt16(encoded, p.errCode)
			encoded = kbin.AppendInt32(encoded, p.partition)
			encoded = kbin.AppendInt32(encoded, p.leader)
			encoded = kbin.AppendArrayLen(encoded, len(p.replicas))
			for _, r := range p.replicas {
				encoded = kbin.AppendInt32(encoded, r)
			}
			encoded = kbin.AppendArrayLen(encoded, len(p.isr))
			for _, r := range p.isr {
				encoded = kbin.AppendInt32(encoded, r)
			}
		}
	}

	got := new(metadataResponse)
	if err := got.readFrom(encoded); err != nil {
		t.Fatalf("readFrom: %v", err)
	}

	if diff := cmp.Diff(want, got, cmp.AllowUnexported(
		metadataResponse{}, metadataResponseBroker{}, metadataResponseTopic{}, metadataResponsePartition{},
	)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendRequestPatchesLengthPrefix(t *testing.T) {
	clientID := "test-client"
	buf := appendRequest(nil, &metadataRequest{topics: []string{"orders"}}, 42, &clientID)

	lengthPrefix := int32(0)
	for i := 0; i < 4; i++ {
		lengthPrefix = lengthPrefix<<8 | int32(buf[i])
	}
	if int(lengthPrefix) != len(buf)-4 {
		t.Fatalf("length prefix %d does not match body length %d", lengthPrefix, len(buf)-4)
	}
}
