package kgo_test

import (
	"context"
	"testing"
	"time"

	"github.com/synckafka/synckafka/kfake"
	"github.com/synckafka/synckafka/kgo"
)

func TestMetadataCacheServesRepeatedLookups(t *testing.T) {
	c, err := kfake.NewCluster(kfake.SeedTopic("topic-e", 2))
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	defer c.Close()

	cl := newTestClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		if err := cl.CheckTopicPartitionLeaderAvailable(ctx, "topic-e", 0); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if err := cl.CheckTopicPartitionLeaderAvailable(ctx, "topic-e", 1); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}
}

func TestMetadataCacheConcurrentLookupsAllSucceed(t *testing.T) {
	c, err := kfake.NewCluster()
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	defer c.Close()

	cl := newTestClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 25
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- cl.CheckTopicPartitionLeaderAvailable(ctx, "topic-f", 0)
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Errorf("concurrent lookup: %v", err)
		}
	}
}

func TestMetadataCacheRejectsUnknownPartitionAfterRefresh(t *testing.T) {
	c, err := kfake.NewCluster(kfake.SeedTopic("topic-g", 1))
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	defer c.Close()

	cl := newTestClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cl.CheckTopicPartitionLeaderAvailable(ctx, "topic-g", 99); err != kgo.ErrUnknownTopicOrPartition {
		t.Fatalf("expected ErrUnknownTopicOrPartition, got %v", err)
	}
}
