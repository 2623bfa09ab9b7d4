package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/javi11/plansync/internal/store"
)

// placeholderID is the null entity id some backends emit for request rows
// that were deleted server-side mid-listing. Entries carrying it are dropped
// on every write path.
var placeholderID = uuid.Nil.String()

// normalizeByID drops entries with an empty or placeholder id and
// deduplicates by id, keeping the first occurrence.
func normalizeByID[T any](items []T, id func(T) string) []T {
	result := make([]T, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		key := id(item)
		if key == "" || key == placeholderID {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, item)
	}

	return result
}

// upsertByID replaces the entry matching item's id in place, or appends it
// when absent.
func upsertByID[T any](list []T, item T, id func(T) string) []T {
	key := id(item)
	for i := range list {
		if id(list[i]) == key {
			list[i] = item
			return list
		}
	}

	return append(list, item)
}

// removeByID removes the entry with entityID. The second return value reports
// whether anything was removed.
func removeByID[T any](list []T, entityID string, id func(T) string) ([]T, bool) {
	for i := range list {
		if id(list[i]) == entityID {
			return append(list[:i:i], list[i+1:]...), true
		}
	}

	return list, false
}

// snapshot returns a copy of list so callers never observe later mutations.
func snapshot[T any](list []T) []T {
	if list == nil {
		return []T{}
	}

	result := make([]T, len(list))
	copy(result, list)
	return result
}

// loadPartition reads an owner-partitioned collection from the durable store.
// A missing key yields an empty map.
func loadPartition[T any](ctx context.Context, st store.Store, key string) (map[string][]T, error) {
	data, ok, err := st.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load partition %q: %w", key, err)
	}
	if !ok {
		return make(map[string][]T), nil
	}

	var partition map[string][]T
	if err := json.Unmarshal(data, &partition); err != nil {
		return nil, fmt.Errorf("failed to decode partition %q: %w", key, err)
	}
	if partition == nil {
		partition = make(map[string][]T)
	}

	return partition, nil
}

// savePartition writes an owner-partitioned collection to the durable store.
// Failures are logged, never propagated: a missed write only costs freshness
// after a restart.
func savePartition[T any](ctx context.Context, st store.Store, key string, partition map[string][]T, log *slog.Logger) {
	data, err := json.Marshal(partition)
	if err != nil {
		log.ErrorContext(ctx, "Failed to encode partition", "key", key, "error", err)
		return
	}

	if err := st.Set(ctx, key, data); err != nil {
		log.ErrorContext(ctx, "Failed to persist partition", "key", key, "error", err)
	}
}
