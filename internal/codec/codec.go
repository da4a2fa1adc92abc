// Package codec implements the wire unit of a shard operation (§4.2): a
// fixed header plus a self-describing JSON payload, framed and CRC-checked
// the way the teacher frames object headers in transport/api.go (a fixed
// Obj/ObjHdr struct with a typed opcode) and persists checksummed blobs via
// its jsp helper.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/nodestore/shardmgr/internal/cos"
	"github.com/nodestore/shardmgr/internal/jsp"
	"github.com/nodestore/shardmgr/internal/shard"
)

type MsgType uint32

const (
	CreateShard MsgType = iota + 1
	SealShard
)

func (t MsgType) String() string {
	switch t {
	case CreateShard:
		return "CREATE_SHARD"
	case SealShard:
		return "SEAL_SHARD"
	default:
		return fmt.Sprintf("MsgType(%d)", t)
	}
}

// headerFixedSize is the byte length of every Header field except
// HeaderCRC itself: 4 (MsgType) + 8 (PGID) + 8 (ShardID) + 4 (PayloadSize)
// + 4 (PayloadCRC) = 28.
const headerFixedSize = 4 + 8 + 8 + 4 + 4
const HeaderSize = headerFixedSize + 4 // + HeaderCRC

// Header is the fixed, little-endian framing header (§4.2). It travels as
// the replication device's opaque "key" blob; the device persists it
// alongside the payload and redelivers both at commit time (§6).
type Header struct {
	MsgType     MsgType
	PGID        uint64
	ShardID     uint64
	PayloadSize uint32
	PayloadCRC  uint32
	HeaderCRC   uint32
	sealed      bool
}

// Seal finalizes HeaderCRC over all preceding header bytes. Must be called
// exactly once, after every other field is set, and before the header is
// submitted to the replication device.
func (h *Header) Seal() {
	h.HeaderCRC = cos.ComputeCRC32Raw(h.marshalUnsealed())
	h.sealed = true
}

// Corrupted reports a header CRC mismatch (§4.4 verification step).
func (h *Header) Corrupted() bool {
	return cos.ComputeCRC32Raw(h.marshalUnsealed()) != h.HeaderCRC
}

func (h *Header) marshalUnsealed() []byte {
	b := make([]byte, headerFixedSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.MsgType))
	binary.LittleEndian.PutUint64(b[4:12], h.PGID)
	binary.LittleEndian.PutUint64(b[12:20], h.ShardID)
	binary.LittleEndian.PutUint32(b[20:24], h.PayloadSize)
	binary.LittleEndian.PutUint32(b[24:28], h.PayloadCRC)
	return b
}

// Marshal renders the sealed header to its on-wire bytes. Panics if called
// before Seal — callers always seal before submitting (§4.3 step 3).
func (h *Header) Marshal() []byte {
	debugAssertSealed(h)
	b := h.marshalUnsealed()
	tail := make([]byte, 4)
	binary.LittleEndian.PutUint32(tail, h.HeaderCRC)
	return append(b, tail...)
}

func debugAssertSealed(h *Header) {
	if !h.sealed {
		panic("codec: header used before Seal()")
	}
}

// UnmarshalHeader parses a Header off the wire; it does not itself verify
// HeaderCRC — callers ask Corrupted() explicitly, matching §4.4's "fail the
// caller's future with CRC_MISMATCH and skip the entry" flow which needs
// to distinguish a parse error from a checksum mismatch.
func UnmarshalHeader(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("codec: header length %d != %d", len(b), HeaderSize)
	}
	h := &Header{
		MsgType:     MsgType(binary.LittleEndian.Uint32(b[0:4])),
		PGID:        binary.LittleEndian.Uint64(b[4:12]),
		ShardID:     binary.LittleEndian.Uint64(b[12:20]),
		PayloadSize: binary.LittleEndian.Uint32(b[20:24]),
		PayloadCRC:  binary.LittleEndian.Uint32(b[24:28]),
		HeaderCRC:   binary.LittleEndian.Uint32(b[28:32]),
		sealed:      true,
	}
	return h, nil
}

// EncodePayload renders a ShardInfo to its self-describing JSON payload,
// zero-pads it to a multiple of blockSize (the framing rule, §4.2), and
// returns the padded bytes plus a header stamped with PayloadSize and
// PayloadCRC (both computed over the padded length, trailing zeros
// included). The header is returned unsealed; callers set PGID/ShardID/
// MsgType as needed before calling Seal().
func EncodePayload(info *shard.Info, msgType MsgType, blockSize int) ([]byte, *Header, error) {
	raw, _, err := jsp.Encode(info)
	if err != nil {
		return nil, nil, fmt.Errorf("codec: encode payload: %w", err)
	}
	padded := padToBlock(raw, blockSize)
	h := &Header{
		MsgType:     msgType,
		PGID:        info.PlacementGroup,
		ShardID:     info.ID,
		PayloadSize: uint32(len(padded)),
		PayloadCRC:  cos.ComputeCRC32Raw(padded),
	}
	return padded, h, nil
}

// DecodePayload verifies the payload against the header's PayloadCRC and,
// on success, decodes it into a fresh ShardInfo.
func DecodePayload(h *Header, payload []byte) (*shard.Info, error) {
	if uint32(len(payload)) != h.PayloadSize {
		return nil, fmt.Errorf("codec: payload length %d != header %d", len(payload), h.PayloadSize)
	}
	if got := cos.ComputeCRC32Raw(payload); got != h.PayloadCRC {
		return nil, fmt.Errorf("codec: %w (want %08x, got %08x)", cos.ErrCRCMismatch, h.PayloadCRC, got)
	}
	info := &shard.Info{}
	if err := jsp.DecodeUnchecked(payload, info); err != nil {
		return nil, fmt.Errorf("codec: decode payload: %w", err)
	}
	return info, nil
}

func padToBlock(b []byte, blockSize int) []byte {
	if blockSize <= 0 {
		return b
	}
	rem := len(b) % blockSize
	if rem == 0 {
		return b
	}
	padded := make([]byte, len(b)+(blockSize-rem))
	copy(padded, b)
	return padded
}
