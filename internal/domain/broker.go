package domain

import "context"

// Watermarks is the low/high offset range of one partition.
type Watermarks struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// Broker is the consumer contract the engine depends on. It abstracts any
// partitioned, ordered message log; the wire protocol behind it is out of
// scope. Within a partition, Poll yields records in strict offset order.
type Broker interface {
	// ListPartitions returns the partition ids of a topic.
	ListPartitions(ctx context.Context, topic string) ([]int32, error)

	// Watermarks returns the low/high offsets of a partition, for lag and
	// health diagnostics.
	Watermarks(ctx context.Context, topic string, partition int32) (Watermarks, error)

	// Poll returns up to max records starting at offset. An empty slice
	// means the consumer is caught up.
	Poll(ctx context.Context, topic string, partition int32, offset int64, max int) ([]RawRecord, error)

	// Commit durably records that everything up to and including offset has
	// been fully applied for the consumer group. Commit is only advanced
	// after an event's effects are complete, giving at-least-once
	// reprocessing on restart.
	Commit(ctx context.Context, group, topic string, partition int32, offset int64) error

	// Committed returns the last committed offset for the group, or -1 if
	// nothing has been committed yet.
	Committed(ctx context.Context, group, topic string, partition int32) (int64, error)
}
