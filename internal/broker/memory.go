// Package broker provides the in-process partitioned log used by the
// community tier and by replay tooling. It implements the same consumer
// contract an external broker would: partitions, offsets, watermarks and
// consumer-group commits.
package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MemoryLog is an append-only, partitioned in-memory log. Records are
// partitioned by origin entity id so per-entity ordering holds within a
// partition. Offsets are dense and start at 0.
type MemoryLog struct {
	mu         sync.RWMutex
	partitions int
	records    map[string][][]domain.RawRecord // topic -> partition -> records
	commits    map[string]int64                // group|topic|partition -> offset
}

// NewMemoryLog creates a log with the given partition count per topic.
func NewMemoryLog(partitions int) *MemoryLog {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryLog{
		partitions: partitions,
		records:    make(map[string][][]domain.RawRecord),
		commits:    make(map[string]int64),
	}
}

// PartitionFor returns the partition an origin entity id hashes to.
func (m *MemoryLog) PartitionFor(originID string) int32 {
	h := fnv.New32a()
	h.Write([]byte(originID))
	return int32(h.Sum32() % uint32(m.partitions))
}

// Append writes a payload to the partition derived from the origin id and
// returns its (partition, offset) position.
func (m *MemoryLog) Append(topic, originID string, payload []byte) (int32, int64) {
	partition := m.PartitionFor(originID)

	m.mu.Lock()
	defer m.mu.Unlock()
	parts := m.topicPartitions(topic)
	offset := int64(len(parts[partition]))
	parts[partition] = append(parts[partition], domain.RawRecord{
		Partition: partition,
		Offset:    offset,
		Payload:   payload,
	})
	m.records[topic] = parts
	return partition, offset
}

// ListPartitions returns the topic's partition ids.
func (m *MemoryLog) ListPartitions(_ context.Context, topic string) ([]int32, error) {
	out := make([]int32, m.partitions)
	for i := range out {
		out[i] = int32(i)
	}
	return out, nil
}

// Watermarks returns the low and high watermark of a partition. High is the
// offset the next record will get.
func (m *MemoryLog) Watermarks(_ context.Context, topic string, partition int32) (domain.Watermarks, error) {
	if err := m.checkPartition(partition); err != nil {
		return domain.Watermarks{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	high := int64(0)
	if parts, ok := m.records[topic]; ok {
		high = int64(len(parts[partition]))
	}
	return domain.Watermarks{Low: 0, High: high}, nil
}

// Poll returns up to max records starting at offset. An offset at or beyond
// the high watermark returns an empty batch, never an error.
func (m *MemoryLog) Poll(_ context.Context, topic string, partition int32, offset int64, max int) ([]domain.RawRecord, error) {
	if err := m.checkPartition(partition); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	parts, ok := m.records[topic]
	if !ok || offset >= int64(len(parts[partition])) {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + int64(max)
	if end > int64(len(parts[partition])) {
		end = int64(len(parts[partition]))
	}
	batch := make([]domain.RawRecord, end-offset)
	copy(batch, parts[partition][offset:end])
	return batch, nil
}

// Commit records the last fully applied offset for a consumer group.
func (m *MemoryLog) Commit(_ context.Context, group, topic string, partition int32, offset int64) error {
	if err := m.checkPartition(partition); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[commitKey(group, topic, partition)] = offset
	return nil
}

// Committed returns the last committed offset for a group, or -1 when the
// group has never committed on that partition.
func (m *MemoryLog) Committed(_ context.Context, group, topic string, partition int32) (int64, error) {
	if err := m.checkPartition(partition); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off, ok := m.commits[commitKey(group, topic, partition)]; ok {
		return off, nil
	}
	return -1, nil
}

func (m *MemoryLog) topicPartitions(topic string) [][]domain.RawRecord {
	parts, ok := m.records[topic]
	if !ok {
		parts = make([][]domain.RawRecord, m.partitions)
	}
	return parts
}

func (m *MemoryLog) checkPartition(partition int32) error {
	if partition < 0 || int(partition) >= m.partitions {
		return fmt.Errorf("partition %d out of range: %w", partition, domain.ErrBrokerUnavailable)
	}
	return nil
}

func commitKey(group, topic string, partition int32) string {
	return fmt.Sprintf("%s|%s|%d", group, topic, partition)
}
