// Package cache provides result caches and duplicate detectors for the
// caching and duplicate detection interceptors.
//
// MemoryCache and MemoryDuplicateDetector keep entries in process.
// RedisCache and RedisDuplicateDetector share them between processes through
// Redis. Redis values are stored as JSON, so a cached struct comes back as the
// generic JSON form (maps, slices, float64 numbers) unless the caller stores a
// json.RawMessage or a string.
package cache
