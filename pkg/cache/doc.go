// Package cache provides the content-addressable result cache for analysis
// payloads, backed by the shared key/value store.
//
// The cache manager implements the following behavior:
//
// - Deterministic keys derived from stable identity fields only
// - Absolute TTL: reads never extend an entry's lifetime
// - Best-effort hit counting that never blocks or fails a read
// - Fail-open: store errors turn reads into misses and writes into no-ops
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create the store
//	store := kvstore.NewRedisStore(redisClient, kvstore.Options{Prefix: "scanquota"})
//
//	// Create cache manager
//	manager := cache.NewManager(store, cache.DefaultConfig(), logger)
//
//	// Derive the key from the subject's identity
//	key, err := manager.ComputeKey("food", map[string]any{
//		"barcode": "4006381333931",
//		"name":    "Cola Zero",
//		"ts":      1760000000, // volatile, ignored
//	})
//
//	// Get from cache
//	entry, ok := manager.Get(ctx, key)
//	if !ok {
//		// Cache miss - run the analysis, then store it
//		_ = manager.Set(ctx, key, payload, 0)
//	}
//
// # Keys
//
// Keys have the form cache:<category>:<sha256-hex>. The digest covers the
// category and the sorted, normalized identity fields, so field order,
// numeric representation (123 vs 123.0) and volatile fields such as
// timestamps or session identifiers never change the key.
//
// # Invalidation
//
// Invalidate and InvalidateCategory walk the keyspace with SCAN. They are
// meant for rare administrative events such as a rule database update, not
// for the request path.
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - scanquota_cache_hits_total - Cache hits
//   - scanquota_cache_misses_total - Cache misses
//   - scanquota_cache_sets_total - Entries written
//   - scanquota_cache_entry_size_bytes - Encoded entry size
//   - scanquota_cache_invalidated_keys_total - Keys removed by invalidation
//   - scanquota_cache_errors_total{operation} - Swallowed store errors
package cache
