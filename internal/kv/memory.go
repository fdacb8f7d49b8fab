package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type memoryItem struct {
	sk   string
	lsi1 string
	data map[string]any
}

// MemoryStore is an in-memory Store used in tests and local runs. Items are
// round-tripped through JSON so struct tags behave the same as with the
// DynamoDB backend for the attribute names both tag sets share. Reads
// include PK/SK/LSI1 in the attribute map, matching DynamoDB where key
// attributes are item attributes.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*memoryItem
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: map[string]map[string]*memoryItem{}}
}

func (s *MemoryStore) Get(ctx context.Context, pk, sk string, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.partitions[pk][sk]
	if !ok {
		return ErrNotFound
	}
	return decodeItem(materialize(pk, item), out)
}

func (s *MemoryStore) Put(ctx context.Context, put Put) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(put)
}

func (s *MemoryStore) TransactPut(ctx context.Context, puts ...Put) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Marshal everything before touching state so a bad item leaves the
	// store unchanged.
	staged := make([]Put, 0, len(puts))
	for _, put := range puts {
		if _, err := encodeItem(put.Item); err != nil {
			return err
		}
		staged = append(staged, put)
	}
	for _, put := range staged {
		if err := s.putLocked(put); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) putLocked(put Put) error {
	data, err := encodeItem(put.Item)
	if err != nil {
		return err
	}
	partition, ok := s.partitions[put.PK]
	if !ok {
		partition = map[string]*memoryItem{}
		s.partitions[put.PK] = partition
	}
	partition[put.SK] = &memoryItem{sk: put.SK, lsi1: put.LSI1, data: data}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, pk, sk string, set map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.partitions[pk][sk]
	if !ok {
		return ErrNotFound
	}
	for name, value := range set {
		normalized, err := encodeValue(value)
		if err != nil {
			return err
		}
		// The LSI1 attribute doubles as the secondary sort value.
		if name == "LSI1" {
			if s, ok := normalized.(string); ok {
				item.lsi1 = s
			}
			continue
		}
		item.data[name] = normalized
	}
	return nil
}

func (s *MemoryStore) Add(ctx context.Context, pk, sk string, add map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	partition, ok := s.partitions[pk]
	if !ok {
		partition = map[string]*memoryItem{}
		s.partitions[pk] = partition
	}
	item, ok := partition[sk]
	if !ok {
		item = &memoryItem{sk: sk, data: map[string]any{}}
		partition[sk] = item
	}
	for name, delta := range add {
		current := int64(0)
		if v, ok := item.data[name]; ok {
			switch n := v.(type) {
			case float64:
				current = int64(n)
			case json.Number:
				parsed, err := n.Int64()
				if err != nil {
					return fmt.Errorf("kv: attribute %s is not an integer: %w", name, err)
				}
				current = parsed
			default:
				return fmt.Errorf("kv: attribute %s is not numeric", name)
			}
		}
		item.data[name] = float64(current + delta)
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query, out any) error {
	type row struct {
		sk   string
		lsi1 string
		data map[string]any
	}
	s.mu.RLock()
	rows := make([]row, 0, len(s.partitions[q.PK]))
	for _, item := range s.partitions[q.PK] {
		rows = append(rows, row{sk: item.sk, lsi1: item.lsi1, data: materialize(q.PK, item)})
	}
	s.mu.RUnlock()

	sortKey := func(r row) string {
		if q.UseLSI1 {
			return r.lsi1
		}
		return r.sk
	}
	filtered := rows[:0]
	for _, r := range rows {
		key := sortKey(r)
		if q.AfterKey != "" && key <= q.AfterKey {
			continue
		}
		if q.BeforeKey != "" && key >= q.BeforeKey {
			continue
		}
		filtered = append(filtered, r)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if q.Reverse {
			return sortKey(filtered[i]) > sortKey(filtered[j])
		}
		return sortKey(filtered[i]) < sortKey(filtered[j])
	})
	if q.Limit > 0 && len(filtered) > int(q.Limit) {
		filtered = filtered[:q.Limit]
	}

	raw := make([]map[string]any, len(filtered))
	for i, r := range filtered {
		raw[i] = r.data
	}
	return decodeItem(raw, out)
}

// materialize copies the item's attributes with the key attributes folded
// in, so counter-only records created by Add still decode their identity.
// Caller must hold at least a read lock.
func materialize(pk string, item *memoryItem) map[string]any {
	data := make(map[string]any, len(item.data)+3)
	for name, value := range item.data {
		data[name] = value
	}
	data["PK"] = pk
	data["SK"] = item.sk
	if item.lsi1 != "" {
		data["LSI1"] = item.lsi1
	}
	return data
}

func encodeItem(item any) (map[string]any, error) {
	encoded, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("kv: marshal item: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(encoded, &data); err != nil {
		return nil, fmt.Errorf("kv: item must encode to an object: %w", err)
	}
	return data, nil
}

func encodeValue(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kv: marshal attribute: %w", err)
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeItem(data any, out any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("kv: re-marshal item: %w", err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("kv: unmarshal item: %w", err)
	}
	return nil
}
