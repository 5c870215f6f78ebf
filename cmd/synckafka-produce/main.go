// Command synckafka-produce reads newline-delimited records from stdin,
// batches them into MessageSets, and produces each batch to a single
// (topic, partition) with one Produce call once the set is full (and once
// more for the last partial set), printing the base offset of each batch.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/synckafka/synckafka/kgo"
)

var rootCmd = &cobra.Command{
	Use:   "synckafka-produce",
	Short: "Produce newline-delimited records from stdin to a Kafka topic partition",
	RunE:  runProduce,
}

func init() {
	rootCmd.Flags().StringSlice("brokers", []string{"127.0.0.1:9092"}, "seed broker addresses")
	rootCmd.Flags().String("topic", "", "topic to produce to (required)")
	rootCmd.Flags().Int32("partition", 0, "partition to produce to")
	rootCmd.Flags().String("acks", "all", "required acks: none, leader, or all")
	rootCmd.Flags().String("compression", "none", "compression codec: none, gzip, or snappy")
	rootCmd.Flags().Duration("timeout", 30*time.Second, "per-call produce timeout")

	viper.BindPFlag("brokers", rootCmd.Flags().Lookup("brokers"))
	viper.BindPFlag("topic", rootCmd.Flags().Lookup("topic"))
	viper.BindPFlag("partition", rootCmd.Flags().Lookup("partition"))
	viper.BindPFlag("acks", rootCmd.Flags().Lookup("acks"))
	viper.BindPFlag("compression", rootCmd.Flags().Lookup("compression"))
	viper.BindPFlag("timeout", rootCmd.Flags().Lookup("timeout"))

	viper.SetEnvPrefix("synckafka")
	viper.AutomaticEnv()
}

func parseAcks(s string) (kgo.RequiredAcks, error) {
	switch strings.ToLower(s) {
	case "none":
		return kgo.RequireNoAck(), nil
	case "leader":
		return kgo.RequireLeaderAck(), nil
	case "all":
		return kgo.RequireAllISRAcks(), nil
	default:
		return kgo.RequiredAcks{}, fmt.Errorf("unknown acks %q", s)
	}
}

func parseCompression(s string) (kgo.Compression, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return kgo.CompressionNone, nil
	case "gzip":
		return kgo.CompressionGzip, nil
	case "snappy":
		return kgo.CompressionSnappy, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

func runProduce(cmd *cobra.Command, args []string) error {
	topic := viper.GetString("topic")
	if topic == "" {
		return fmt.Errorf("--topic is required")
	}
	partition := viper.GetInt32("partition")

	acks, err := parseAcks(viper.GetString("acks"))
	if err != nil {
		return err
	}
	compression, err := parseCompression(viper.GetString("compression"))
	if err != nil {
		return err
	}

	cl, err := kgo.NewClient(
		viper.GetStringSlice("brokers"),
		kgo.WithProduceRequiredAcks(acks),
		kgo.WithProduceCompression(compression),
		kgo.WithProduceTimeout(viper.GetDuration("timeout")),
		kgo.WithLogger(kgo.BasicLogger(kgo.LogLevelWarn)),
	)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ms := kgo.NewMessageSet(compression, 0)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if err := ms.Push(append([]byte(nil), line...), nil); err != nil {
			if err := flush(ctx, cl, topic, partition, ms); err != nil {
				return err
			}
			ms = kgo.NewMessageSet(compression, 0)
			if err := ms.Push(append([]byte(nil), line...), nil); err != nil {
				return fmt.Errorf("record too large to fit any message set: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if ms.Len() > 0 {
		if err := flush(ctx, cl, topic, partition, ms); err != nil {
			return err
		}
	}
	return nil
}

func flush(ctx context.Context, cl *kgo.Client, topic string, partition int32, ms *kgo.MessageSet) error {
	offset, err := cl.Produce(ctx, topic, partition, ms)
	if err != nil {
		return fmt.Errorf("producing %d record(s) to %s/%d: %w", ms.Len(), topic, partition, err)
	}
	fmt.Printf("produced %d record(s) to %s/%d, base offset %d\n", ms.Len(), topic, partition, offset)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
