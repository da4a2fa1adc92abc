// Package mono provides monotonic wallclock helpers used for shard
// timestamps and future-resolution latency tracking.
package mono

import "time"

var start = time.Now()

// NanoTime returns a process-monotonic nanosecond counter. Unlike
// time.Now().UnixNano(), it never goes backwards under NTP adjustment.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// MicroTime returns the current wallclock time in microseconds, the unit
// ShardInfo timestamps are carried in (§3).
func MicroTime() int64 { return time.Now().UnixMicro() }
