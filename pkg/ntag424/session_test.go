package ntag424

import (
	"bytes"
	"testing"
)

func TestOpenSessionEstablishesMatchingKeys(t *testing.T) {
	key0 := bytes.Repeat([]byte{0x00}, 16)
	card := NewSimCard(key0)

	sess, err := OpenSession(card, key0, 0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if sess.Closed() {
		t.Fatalf("freshly opened session reports closed")
	}
	if sess.KeyNo() != 0 {
		t.Fatalf("KeyNo() = %d, want 0", sess.KeyNo())
	}
	if sess.CmdCtr() != 0 {
		t.Fatalf("CmdCtr() = %d, want 0 before any command", sess.CmdCtr())
	}
	if sess.kenc != card.kenc || sess.kmac != card.kmac || sess.ti != card.ti {
		t.Fatalf("host session keys/TI differ from the tag's")
	}
}

func TestChangeKeySameRotatesKeyAndClosesSession(t *testing.T) {
	zero := make([]byte, 16)
	newKey := bytes.Repeat([]byte{0x11}, 16)
	card := NewSimCard(zero)

	sess, err := OpenSession(card, zero, 0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := ChangeKeySame(card, sess, 0, newKey, 1); err != nil {
		t.Fatalf("ChangeKeySame: %v", err)
	}
	if !sess.Closed() {
		t.Fatalf("session should be closed after ChangeKeySame")
	}
	if got := card.Key(0); !bytes.Equal(got[:], newKey) {
		t.Fatalf("tag key slot 0 = %X, want %X", got, newKey)
	}

	// The old key must no longer authenticate; the new key must.
	if _, err := OpenSession(card, zero, 0); err == nil {
		t.Fatalf("expected OpenSession with the old key to fail after rotation")
	}
	sess2, err := OpenSession(card, newKey, 0)
	if err != nil {
		t.Fatalf("OpenSession with new key: %v", err)
	}
	if sess2.Closed() {
		t.Fatalf("new session should not start closed")
	}
}

func TestChangeKeyCrossSlotRotatesOnlyTargetSlot(t *testing.T) {
	zero := make([]byte, 16)
	key0 := bytes.Repeat([]byte{0xAA}, 16)
	card := NewSimCard(key0)

	sess, err := OpenSession(card, key0, 0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	newSlot1 := bytes.Repeat([]byte{0x22}, 16)
	if err := ChangeKey(card, sess, 1, newSlot1, zero, 1, 0); err != nil {
		t.Fatalf("ChangeKey(1): %v", err)
	}
	if sess.Closed() {
		t.Fatalf("cross-slot ChangeKey should not close the session")
	}
	if sess.CmdCtr() != 1 {
		t.Fatalf("CmdCtr() = %d, want 1 after one command", sess.CmdCtr())
	}
	if got := card.Key(1); !bytes.Equal(got[:], newSlot1) {
		t.Fatalf("tag key slot 1 = %X, want %X", got, newSlot1)
	}
	if got := card.Key(0); !bytes.Equal(got[:], key0) {
		t.Fatalf("unrelated key slot 0 changed: %X, want unchanged %X", got, key0)
	}

	newSlot3 := bytes.Repeat([]byte{0x33}, 16)
	if err := ChangeKey(card, sess, 3, newSlot3, zero, 1, 0); err != nil {
		t.Fatalf("ChangeKey(3): %v", err)
	}
	if sess.CmdCtr() != 2 {
		t.Fatalf("CmdCtr() = %d, want 2 after two commands", sess.CmdCtr())
	}
}

func TestFormatPICCDisabledSurfacesIllegalCommand(t *testing.T) {
	key0 := make([]byte, 16)
	card := NewSimCard(key0)
	card.SetFormatDisabled(true)

	sess, err := OpenSession(card, key0, 0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	err = FormatPICC(card, sess)
	if err == nil {
		t.Fatalf("expected FormatPICC to fail when disabled")
	}
	pe, ok := err.(*ProtocolError)
	if !ok {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
	if pe.Kind != KindIllegalCommand {
		t.Fatalf("Kind = %v, want KindIllegalCommand", pe.Kind)
	}
	if !sess.Closed() {
		t.Fatalf("session should close after a protocol error")
	}
}

func TestFormatPICCEnabledSucceeds(t *testing.T) {
	key0 := make([]byte, 16)
	card := NewSimCard(key0)

	sess, err := OpenSession(card, key0, 0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := FormatPICC(card, sess); err != nil {
		t.Fatalf("FormatPICC: %v", err)
	}
	if sess.Closed() {
		t.Fatalf("successful FormatPICC should not close the session")
	}
}

func TestWriteDataChunkedReassemblesAcrossChunks(t *testing.T) {
	key0 := make([]byte, 16)
	card := NewSimCard(key0)

	sess, err := OpenSession(card, key0, 0)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	payload := make([]byte, 150) // spans 4 chunks at maxChunkSize=48
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := sess.WriteDataChunked(card, 0x02, 0, payload, CommFull); err != nil {
		t.Fatalf("WriteDataChunked: %v", err)
	}

	got := card.FileData(0x02)
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled file data does not match: got %d bytes, want %d", len(got), len(payload))
	}
	if sess.CmdCtr() != 4 {
		t.Fatalf("CmdCtr() = %d, want 4 (one per chunk)", sess.CmdCtr())
	}
}
