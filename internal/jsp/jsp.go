// Package jsp is a trimmed reimplementation of the teacher's cmn/jsp: a
// JSON blob helper that computes and checks CRC32s kept alongside the blob
// (no length prefix is written). It backs both the wire
// Codec payload (§4.2) and the durable shard superblock (§3/§6) so the
// two concerns share one serialization format, the way the teacher uses
// jsp for both VMD and LOM metadata.
package jsp

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/nodestore/shardmgr/internal/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode marshals v to JSON and returns the bytes plus their CRC32-IEEE.
func Encode(v any) (data []byte, crc uint32, err error) {
	data, err = json.Marshal(v)
	if err != nil {
		return nil, 0, fmt.Errorf("jsp: encode: %w", err)
	}
	crc = cos.ComputeCRC32Raw(data)
	return data, crc, nil
}

// Decode unmarshals data into v, verifying a CRC32 first. data may carry
// trailing zero padding (§4.2 framing rule); decoding reads a single JSON
// value off the front of data and ignores anything after it, so the
// padding never reaches the decoder.
func Decode(data []byte, wantCRC uint32, v any) error {
	if got := cos.ComputeCRC32Raw(data); got != wantCRC {
		return fmt.Errorf("jsp: decode: %w (want %08x, got %08x)", cos.ErrCRCMismatch, wantCRC, got)
	}
	return DecodeUnchecked(data, v)
}

// DecodeUnchecked unmarshals without a CRC check, used when the caller has
// already validated the blob (e.g. codec.DecodePayload has already checked
// the payload against the header's PayloadCRC).
func DecodeUnchecked(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("jsp: decode: %w", err)
	}
	return nil
}
