package kgo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/synckafka/synckafka/kfake"
	"github.com/synckafka/synckafka/kgo"
)

func newTestClient(t *testing.T, c *kfake.Cluster, opts ...kgo.Opt) *kgo.Client {
	t.Helper()
	cl, err := kgo.NewClient([]string{c.Addr()}, append([]kgo.Opt{
		kgo.WithConnectTimeout(2 * time.Second),
		kgo.WithProduceTimeout(2 * time.Second),
	}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(cl.Close)
	return cl
}

func TestProduceOneBatch(t *testing.T) {
	c, err := kfake.NewCluster()
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	defer c.Close()

	cl := newTestClient(t, c)

	ms := kgo.NewMessageSet(kgo.CompressionNone, 0)
	for _, v := range []string{"a", "b", "c"} {
		if err := ms.Push([]byte(v), nil); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base, err := cl.Produce(ctx, "topic-a", 0, ms)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected base offset 0 for the first batch, got %d", base)
	}

	ms2 := kgo.NewMessageSet(kgo.CompressionNone, 0)
	if err := ms2.Push([]byte("d"), nil); err != nil {
		t.Fatalf("Push: %v", err)
	}
	base2, err := cl.Produce(ctx, "topic-a", 0, ms2)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if base2 != 3 {
		t.Fatalf("expected base offset 3 for the second batch, got %d", base2)
	}
}

func TestProducePipelinedCalls(t *testing.T) {
	c, err := kfake.NewCluster()
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	defer c.Close()

	cl := newTestClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 50
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ms := kgo.NewMessageSet(kgo.CompressionNone, 0)
			if err := ms.Push([]byte("x"), nil); err != nil {
				results <- err
				return
			}
			_, err := cl.Produce(ctx, "topic-pipelined", 0, ms)
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Errorf("concurrent Produce: %v", err)
		}
	}
}

func TestProduceUnknownPartitionFails(t *testing.T) {
	c, err := kfake.NewCluster(kfake.SeedTopic("topic-b", 1))
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	defer c.Close()

	cl := newTestClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ms := kgo.NewMessageSet(kgo.CompressionNone, 0)
	if err := ms.Push([]byte("x"), nil); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, err := cl.Produce(ctx, "topic-b", 7, ms); err == nil {
		t.Fatal("expected an error producing to a partition the topic does not have")
	}
}

func TestCheckTopicPartitionLeaderAvailable(t *testing.T) {
	c, err := kfake.NewCluster()
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	defer c.Close()

	cl := newTestClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cl.CheckTopicPartitionLeaderAvailable(ctx, "topic-c", 0); err != nil {
		t.Fatalf("expected the fake broker to auto-create topic-c/0, got: %v", err)
	}
}

func TestProduceFailsAgainstDeadCluster(t *testing.T) {
	c, err := kfake.NewCluster()
	if err != nil {
		t.Fatalf("kfake.NewCluster: %v", err)
	}
	addr := c.Addr()
	c.Close() // nothing is listening anymore

	cl, err := kgo.NewClient([]string{addr},
		kgo.WithConnectTimeout(200*time.Millisecond),
		kgo.WithProduceTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer cl.Close()

	ms := kgo.NewMessageSet(kgo.CompressionNone, 0)
	if err := ms.Push([]byte("x"), nil); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = cl.Produce(ctx, "topic-d", 0, ms)
	if err == nil {
		t.Fatal("expected Produce against a dead cluster to fail")
	}
	if !errors.Is(err, kgo.ErrNetworkFail) && !errors.Is(err, kgo.ErrNetworkTimeout) {
		t.Fatalf("expected ErrNetworkFail or ErrNetworkTimeout, got %v", err)
	}
}
