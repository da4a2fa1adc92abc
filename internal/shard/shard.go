// Package shard holds the logical shard data model (§3): ShardInfo, the
// shard-ID composition scheme, and the invariants every mutation must
// preserve.
package shard

import (
	"encoding/json"
	"fmt"
)

type State int

const (
	Open State = iota
	Sealed
)

func (s State) String() string {
	if s == Sealed {
		return "SEALED"
	}
	return "OPEN"
}

// MarshalJSON/UnmarshalJSON render State as "OPEN"/"SEALED" so the wire
// and superblock payloads stay self-describing (§4.2) rather than opaque
// integers.
func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *State) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "SEALED":
		*s = Sealed
	case "OPEN":
		*s = Open
	default:
		return fmt.Errorf("shard: invalid state %q", str)
	}
	return nil
}

// Info is the logical ShardInfo record (§3). Timestamps are wallclock
// microseconds stamped at the proposing replica (§4.3) so all replicas
// converge on identical values.
type Info struct {
	ID                     uint64 `json:"id"`
	PlacementGroup         uint64 `json:"placement_group"`
	State                  State  `json:"state"`
	CreatedTime            int64  `json:"created_time"`
	LastModifiedTime       int64  `json:"last_modified_time"`
	TotalCapacityBytes     int64  `json:"total_capacity_bytes"`
	AvailableCapacityBytes int64  `json:"available_capacity_bytes"`
	DeletedCapacityBytes   int64  `json:"deleted_capacity_bytes"`
}

// Validate checks the §3 invariants that must hold for any ShardInfo at
// rest or in flight.
func (i *Info) Validate() error {
	if i.AvailableCapacityBytes > i.TotalCapacityBytes {
		return fmt.Errorf("shard %d: available %d > total %d", i.ID, i.AvailableCapacityBytes, i.TotalCapacityBytes)
	}
	if i.DeletedCapacityBytes > i.TotalCapacityBytes {
		return fmt.Errorf("shard %d: deleted %d > total %d", i.ID, i.DeletedCapacityBytes, i.TotalCapacityBytes)
	}
	if i.LastModifiedTime < i.CreatedTime {
		return fmt.Errorf("shard %d: last_modified %d < created %d", i.ID, i.LastModifiedTime, i.CreatedTime)
	}
	return nil
}

// Clone returns a deep copy; Info has no reference fields so a plain copy
// suffices, but the method documents the intent at call sites that must
// not alias the original (e.g. SEAL's "copy the supplied ShardInfo", §4.3).
func (i Info) Clone() Info { return i }

// Width is the number of low bits of a shard ID reserved for the per-PG
// sequence (the "shard width" W, §3). It is a package variable rather than
// a constant so tests can exercise small widths without waiting out a real
// 1<<W exhaustion; production wiring sets it once at startup from config
// and never again.
var Width uint = 32

// MaxPerPG returns 1<<W, the maximum number of shards any single PG can
// ever hold (sequence 0 is reserved, so usable IDs run 1..MaxPerPG()-1).
func MaxPerPG() uint64 { return uint64(1) << Width }

// ComposeID packs a PG ID and a per-PG sequence into a single shard ID:
// high bits = PG ID, low W bits = sequence.
func ComposeID(pgID, seq uint64) uint64 {
	return (pgID << Width) | (seq & (MaxPerPG() - 1))
}

// Seq extracts the low-W-bit sequence from a shard ID.
func Seq(id uint64) uint64 { return id & (MaxPerPG() - 1) }

// PGOf extracts the high-bit PG ID from a shard ID.
func PGOf(id uint64) uint64 { return id >> Width }

const MaxShardSizeBytes = 1 << 30 // 1 GiB, the max_shard_size() constant (§6)
