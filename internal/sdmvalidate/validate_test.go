package sdmvalidate

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/barnettlynn/dna424/internal/keystore"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

func newProvisionedRecord(t *testing.T, store keystore.Store, uid string) *keystore.KeyRecord {
	t.Helper()
	if _, err := store.BeginProvision(uid); err != nil {
		t.Fatalf("BeginProvision: %v", err)
	}
	rec, err := store.Commit(uid)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return rec
}

func TestValidateAcceptsFreshReadAndAdvancesCounter(t *testing.T) {
	store := keystore.NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	uid := "0102030405060A"
	rec := newProvisionedRecord(t, store, uid)

	url, err := ntag424.GenerateSDMURL("https://example.com/sdm", mustUIDBytes(t, uid), 1, rec.Keys[3][:])
	if err != nil {
		t.Fatalf("GenerateSDMURL: %v", err)
	}

	v := New(store)
	result, err := v.Validate(url)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.MatchCMAC {
		t.Fatalf("expected CMAC to match")
	}
	if result.Counter != 1 {
		t.Fatalf("Counter = %d, want 1", result.Counter)
	}

	got, err := store.Get(uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastSeenCounter != 1 {
		t.Fatalf("LastSeenCounter = %d, want 1", got.LastSeenCounter)
	}
}

func TestValidateRejectsReplayedCounter(t *testing.T) {
	store := keystore.NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	uid := "0102030405060B"
	rec := newProvisionedRecord(t, store, uid)

	url, err := ntag424.GenerateSDMURL("https://example.com/sdm", mustUIDBytes(t, uid), 1, rec.Keys[3][:])
	if err != nil {
		t.Fatalf("GenerateSDMURL: %v", err)
	}

	v := New(store)
	if _, err := v.Validate(url); err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if _, err := v.Validate(url); err == nil {
		t.Fatalf("expected replayed (same-counter) read to be rejected")
	}

	got, err := store.Get(uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastSeenCounter != 1 {
		t.Fatalf("LastSeenCounter changed on a rejected replay: %d", got.LastSeenCounter)
	}
}

func TestValidateFailsClosedOnUnknownUID(t *testing.T) {
	store := keystore.NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	v := New(store)

	url, err := ntag424.GenerateSDMURL("https://example.com/sdm", mustUIDBytes(t, "FFFFFFFFFFFFFF"), 1, make([]byte, 16))
	if err != nil {
		t.Fatalf("GenerateSDMURL: %v", err)
	}
	if _, err := v.Validate(url); err == nil {
		t.Fatalf("expected validation of an unprovisioned UID to fail")
	}
}

func TestValidateFailsClosedOnCMACMismatch(t *testing.T) {
	store := keystore.NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	uid := "0102030405060C"
	rec := newProvisionedRecord(t, store, uid)

	wrongKey := make([]byte, 16)
	copy(wrongKey, rec.Keys[3][:])
	wrongKey[0] ^= 0xFF

	url, err := ntag424.GenerateSDMURL("https://example.com/sdm", mustUIDBytes(t, uid), 1, wrongKey)
	if err != nil {
		t.Fatalf("GenerateSDMURL: %v", err)
	}

	v := New(store)
	result, err := v.Validate(url)
	if err == nil {
		t.Fatalf("expected CMAC mismatch to fail validation")
	}
	if result != nil && result.MatchCMAC {
		t.Fatalf("result reports a match despite the wrong key")
	}

	got, err := store.Get(uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastSeenCounter != 0 {
		t.Fatalf("LastSeenCounter advanced despite a CMAC mismatch: %d", got.LastSeenCounter)
	}
}

func mustUIDBytes(t *testing.T, uidHex string) []byte {
	t.Helper()
	b, err := hex.DecodeString(uidHex)
	if err != nil || len(b) != 7 {
		t.Fatalf("bad UID hex %q: %v", uidHex, err)
	}
	return b
}
