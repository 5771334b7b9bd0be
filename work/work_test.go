package work

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func testBlob() []byte {
	blob := make([]byte, 76)
	for i := range blob {
		blob[i] = byte(i)
	}
	return blob
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		blob    []byte
		wantErr bool
	}{
		{"short", make([]byte, 42), true},
		{"typical", testBlob(), false},
		{"max", make([]byte, MaxBlobSize), false},
		{"oversized", make([]byte, MaxBlobSize+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.blob, 1, "job", 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !bytes.Equal(w.Data, tt.blob) {
				t.Errorf("New() did not copy blob")
			}
			// The copy must be independent of the caller's buffer.
			tt.blob[0] ^= 0xff
			if bytes.Equal(w.Data, tt.blob) {
				t.Errorf("New() aliases the caller's blob")
			}
		})
	}
}

func TestNonceRoundTrip(t *testing.T) {
	w, err := New(testBlob(), 1, "job", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, nonce := range []uint32{0, 1, 0xdeadbeef, 0xffffffff} {
		w.SetNonce(nonce)
		if got := w.Nonce(); got != nonce {
			t.Errorf("Nonce() = %08x, want %08x", got, nonce)
		}
	}
	// Only the nonce word may change.
	w.SetNonce(0)
	if !bytes.Equal(w.Data[:NonceOffset], testBlob()[:NonceOffset]) {
		t.Error("SetNonce() mutated bytes before the nonce word")
	}
	if !bytes.Equal(w.Data[NonceOffset+4:], testBlob()[NonceOffset+4:]) {
		t.Error("SetNonce() mutated bytes after the nonce word")
	}
}

func TestCopy(t *testing.T) {
	w, err := New(testBlob(), 7, "job", 0)
	if err != nil {
		t.Fatal(err)
	}
	c := w.Copy()
	c.SetNonce(0xaabbccdd)
	if w.Nonce() == c.Nonce() {
		t.Error("Copy() shares the underlying blob")
	}
	if c.Target != w.Target || c.JobID != w.JobID {
		t.Error("Copy() did not preserve job fields")
	}
}

func TestTargetFromHex(t *testing.T) {
	tests := []struct {
		name    string
		hex     string
		want    uint64
		wantErr bool
	}{
		// Difficulty 1: 32-bit all-ones expands to 64-bit all-ones.
		{"diff1", "ffffffff", 0xFFFFFFFFFFFFFFFF, false},
		// 0xb88d0600 little endian is 0x00068db8 (difficulty 10000).
		{"diff10000", "b88d0600", 0xFFFFFFFFFFFFFFFF / (0xFFFFFFFF / 0x00068db8), false},
		{"wide", "ffffffffffffffff", 0xFFFFFFFFFFFFFFFF, false},
		{"wide-small", "0100000000000000", 1, false},
		{"zero", "00000000", 0, true},
		{"badlen", "ffffff", 0, true},
		{"badhex", "zzzzzzzz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetFromHex(tt.hex)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TargetFromHex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("TargetFromHex() = %016x, want %016x", got, tt.want)
			}
		})
	}
}

func TestHashMeetsTarget(t *testing.T) {
	hash := make([]byte, 32)
	// High quadword = 0x00000000000000ff little endian.
	hash[24] = 0xff

	tests := []struct {
		name   string
		target uint64
		want   bool
	}{
		{"below", 0x100, true},
		{"equal", 0xff, false},
		{"above", 0xfe, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashMeetsTarget(hash, tt.target); got != tt.want {
				t.Errorf("HashMeetsTarget() = %v, want %v", got, tt.want)
			}
		})
	}

	if HashMeetsTarget(hash[:31], 0xffff) {
		t.Error("HashMeetsTarget() accepted a truncated hash")
	}
}

func TestNewFromHex(t *testing.T) {
	blobHex := hex.EncodeToString(testBlob())
	w, err := NewFromHex(blobHex, "ffffffff", "abc", 1234)
	if err != nil {
		t.Fatal(err)
	}
	if w.JobID != "abc" || w.Target != 0xFFFFFFFFFFFFFFFF {
		t.Errorf("NewFromHex() = %+v", w)
	}
	if _, err := NewFromHex("zz", "ffffffff", "abc", 0); err == nil {
		t.Error("NewFromHex() accepted invalid blob hex")
	}
}

func TestDiffFromTarget(t *testing.T) {
	if got := DiffFromTarget(0xFFFFFFFFFFFFFFFF); got < 0.99 || got > 1.01 {
		t.Errorf("DiffFromTarget(max) = %v, want ~1", got)
	}
	if got := DiffFromTarget(0); got != 0 {
		t.Errorf("DiffFromTarget(0) = %v, want 0", got)
	}
}
