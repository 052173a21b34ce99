package ntag424

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex literal %q: %v", s, err)
	}
	return b
}

// TestAESCMACNIST800_38B checks aesCMAC against the published NIST
// SP 800-38B AES-128 test vectors (empty message and the 16-byte Mlen=128
// case), independent of anything NTAG424-specific.
func TestAESCMACNIST800_38B(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")

	cases := []struct {
		name string
		msg  []byte
		want string
	}{
		{"empty", nil, "bb1d6929e95937287fa37d129b756746"},
		{"one block", mustHex(t, "6bc1bee22e409f96e93d7e117393172a"), "070a16b46b4d4144f79bc4cb8057603b"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := aesCMAC(key, tc.msg)
			if err != nil {
				t.Fatalf("aesCMAC: %v", err)
			}
			want := mustHex(t, tc.want)
			if !bytes.Equal(got, want) {
				t.Fatalf("aesCMAC(%s) = %X, want %X", tc.name, got, want)
			}
		})
	}
}

// TestTruncateOddBytesSelectsOddIndices pins down the exact byte-selection
// rule the EV2 response MAC relies on: zero-based odd indices, MSB-first.
func TestTruncateOddBytesSelectsOddIndices(t *testing.T) {
	full := make([]byte, 16)
	for i := range full {
		full[i] = byte(i)
	}
	got := truncateOddBytes(full)
	want := []byte{1, 3, 5, 7, 9, 11, 13, 15}
	if !bytes.Equal(got, want) {
		t.Fatalf("truncateOddBytes = %v, want %v", got, want)
	}
}

// TestPadISO9797M2AddsFullBlockOnExactAlignment is the edge case called out
// in padISO9797M2's own comment: a plaintext that is already a non-empty
// multiple of 16 bytes still gets a whole extra padding block, not zero
// extra bytes.
func TestPadISO9797M2AddsFullBlockOnExactAlignment(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 16)
	padded := padISO9797M2(data)
	if len(padded) != 32 {
		t.Fatalf("padded length = %d, want 32 (one full extra block)", len(padded))
	}
	if padded[16] != 0x80 {
		t.Fatalf("padded[16] = %02X, want 0x80", padded[16])
	}
	for i := 17; i < 32; i++ {
		if padded[i] != 0x00 {
			t.Fatalf("padded[%d] = %02X, want 0x00", i, padded[i])
		}
	}
}

// TestPadUnpadISO9797M2RoundTrip covers both the partial-block and
// exact-block cases through encode and decode.
func TestPadUnpadISO9797M2RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := bytes.Repeat([]byte{0x42}, n)
		padded := padISO9797M2(data)
		if len(padded)%16 != 0 {
			t.Fatalf("len=%d: padded length %d not block aligned", n, len(padded))
		}
		got, err := unpadISO9797M2(padded)
		if err != nil {
			t.Fatalf("len=%d: unpad error: %v", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("len=%d: round trip = %v, want %v", n, got, data)
		}
	}
}

// TestRotateLeftRightAreInverses checks the symmetry AuthenticateEV2First's
// RndB/RndA rotation relies on: rotateRight1(rotateLeft1(x)) == x.
func TestRotateLeftRightAreInverses(t *testing.T) {
	in := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	got := rotateRight1(rotateLeft1(in))
	if !bytes.Equal(got, in) {
		t.Fatalf("rotate round trip = %X, want %X", got, in)
	}
}

func TestCRC32DESFireIsDeterministic(t *testing.T) {
	data := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	a := CRC32DESFire(data)
	b := CRC32DESFire(data)
	if a != b {
		t.Fatalf("CRC32DESFire not deterministic: %x != %x", a, b)
	}
	if a == CRC32DESFire(mustHex(t, "ffffffffffffffffffffffffffffffff")) {
		t.Fatalf("CRC32DESFire collided with a different all-ones key")
	}
}
