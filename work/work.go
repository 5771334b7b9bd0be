// Copyright (c) 2016-2023 The Decred developers.

package work

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	// MaxBlobSize is the largest hashing blob a pool may hand out.  The
	// device input buffer is slightly larger to keep transfers aligned.
	MaxBlobSize = 84

	// NonceOffset is the byte offset of the 32-bit nonce word inside the
	// hashing blob.
	NonceOffset = 39
)

// Work holds one hashing job: the block-header-derived blob the device
// searches, the compact 64-bit difficulty target and the pool job it
// belongs to.
type Work struct {
	Data         []byte
	Target       uint64
	JobID        string
	TimeReceived uint32
}

// New returns a Work for the given blob bytes.  The blob is copied so
// the caller may reuse its buffer.
func New(blob []byte, target uint64, jobID string, received uint32) (*Work, error) {
	if len(blob) < NonceOffset+4 {
		return nil, fmt.Errorf("work blob too short: %d bytes", len(blob))
	}
	if len(blob) > MaxBlobSize {
		return nil, fmt.Errorf("work blob too long: %d bytes (max %d)",
			len(blob), MaxBlobSize)
	}
	w := &Work{
		Data:         make([]byte, len(blob)),
		Target:       target,
		JobID:        jobID,
		TimeReceived: received,
	}
	copy(w.Data, blob)
	return w, nil
}

// NewFromHex decodes a pool-supplied hex blob and target into a Work.
func NewFromHex(blobHex, targetHex, jobID string, received uint32) (*Work, error) {
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return nil, fmt.Errorf("invalid work blob %q: %w", blobHex, err)
	}
	target, err := TargetFromHex(targetHex)
	if err != nil {
		return nil, err
	}
	return New(blob, target, jobID, received)
}

// Nonce returns the nonce word currently encoded in the blob.
func (w *Work) Nonce() uint32 {
	return binary.LittleEndian.Uint32(w.Data[NonceOffset:])
}

// SetNonce encodes the nonce word into the blob.
func (w *Work) SetNonce(nonce uint32) {
	binary.LittleEndian.PutUint32(w.Data[NonceOffset:], nonce)
}

// Copy returns an independent copy of the work, used when a found nonce
// must be fixed into a share blob while the device keeps searching.
func (w *Work) Copy() *Work {
	c := *w
	c.Data = make([]byte, len(w.Data))
	copy(c.Data, w.Data)
	return &c
}

// TargetFromHex converts a pool target to the 64-bit compact form the
// kernels compare against.  Pools send either a 4-byte or an 8-byte
// little-endian value; the 4-byte form is expanded so that the share
// difficulty it encodes is preserved.
func TargetFromHex(targetHex string) (uint64, error) {
	raw, err := hex.DecodeString(targetHex)
	if err != nil {
		return 0, fmt.Errorf("invalid target %q: %w", targetHex, err)
	}
	switch len(raw) {
	case 4:
		t32 := binary.LittleEndian.Uint32(raw)
		if t32 == 0 {
			return 0, fmt.Errorf("zero target %q", targetHex)
		}
		return 0xFFFFFFFFFFFFFFFF / (0xFFFFFFFF / uint64(t32)), nil
	case 8:
		t64 := binary.LittleEndian.Uint64(raw)
		if t64 == 0 {
			return 0, fmt.Errorf("zero target %q", targetHex)
		}
		return t64, nil
	}
	return 0, fmt.Errorf("target %q has unsupported length %d", targetHex,
		len(raw))
}

// HashMeetsTarget reports whether a 32-byte cryptonight hash qualifies
// under the compact target.  Only the high quadword of the hash takes
// part in the comparison.
func HashMeetsTarget(hash []byte, target uint64) bool {
	if len(hash) != 32 {
		return false
	}
	return binary.LittleEndian.Uint64(hash[24:]) < target
}

// DiffFromTarget converts a compact target back into the pool
// difficulty it represents, for display.
func DiffFromTarget(target uint64) float64 {
	if target == 0 {
		return 0
	}
	return float64(0xFFFFFFFFFFFFFFFF) / float64(target)
}
