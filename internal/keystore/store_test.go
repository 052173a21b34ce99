package keystore

import (
	"path/filepath"
	"testing"
)

func TestBeginProvisionGeneratesDistinctRandomKeys(t *testing.T) {
	store := NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))

	rec, err := store.BeginProvision("0102030405060A")
	if err != nil {
		t.Fatalf("BeginProvision: %v", err)
	}
	if rec.State != StatePending {
		t.Fatalf("State = %s, want %s", rec.State, StatePending)
	}
	seen := make(map[[16]byte]bool)
	for _, k := range rec.Keys {
		if seen[k] {
			t.Fatalf("duplicate key slot generated: %X", k)
		}
		seen[k] = true
	}
}

func TestBeginProvisionRejectsLiveDuplicateUID(t *testing.T) {
	store := NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	uid := "AABBCCDDEEFF00"

	if _, err := store.BeginProvision(uid); err != nil {
		t.Fatalf("first BeginProvision: %v", err)
	}
	if _, err := store.BeginProvision(uid); err == nil {
		t.Fatalf("expected second BeginProvision for the same live UID to fail")
	}
}

func TestBeginProvisionAllowsReprovisioningAfterAbandon(t *testing.T) {
	store := NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	uid := "AABBCCDDEEFF00"

	if _, err := store.BeginProvision(uid); err != nil {
		t.Fatalf("BeginProvision: %v", err)
	}
	if err := store.Abort(uid, "test abort"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := store.BeginProvision(uid); err != nil {
		t.Fatalf("BeginProvision after abandon should succeed: %v", err)
	}
}

func TestAdvanceCommitPersistAcrossStoreInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.csv")
	uid := "0011223344550A"

	store1 := NewCSVStore(path)
	if _, err := store1.BeginProvision(uid); err != nil {
		t.Fatalf("BeginProvision: %v", err)
	}
	if _, err := store1.Advance(uid, StateKeysRotated, ""); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, err := store1.Advance(uid, StateNDEFWritten, "https://example.com/sdm?uid=00&ctr=00&cmac=00"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, err := store1.Commit(uid); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	store2 := NewCSVStore(path)
	rec, err := store2.Get(uid)
	if err != nil {
		t.Fatalf("Get from a fresh store instance: %v", err)
	}
	if rec.State != StateProvisioned {
		t.Fatalf("State = %s, want %s", rec.State, StateProvisioned)
	}
	if rec.SDMURL == "" {
		t.Fatalf("SDMURL was not persisted")
	}
}

func TestUpdateCounterRejectsNonIncreasingValues(t *testing.T) {
	store := NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	uid := "1122334455660B"
	if _, err := store.BeginProvision(uid); err != nil {
		t.Fatalf("BeginProvision: %v", err)
	}
	if _, err := store.Commit(uid); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := store.UpdateCounter(uid, 5); err != nil {
		t.Fatalf("UpdateCounter(5): %v", err)
	}
	if err := store.UpdateCounter(uid, 5); err == nil {
		t.Fatalf("expected UpdateCounter to reject a non-increasing counter (replay)")
	}
	if err := store.UpdateCounter(uid, 4); err == nil {
		t.Fatalf("expected UpdateCounter to reject a decreasing counter")
	}
	if err := store.UpdateCounter(uid, 6); err != nil {
		t.Fatalf("UpdateCounter(6): %v", err)
	}

	rec, err := store.Get(uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.LastSeenCounter != 6 {
		t.Fatalf("LastSeenCounter = %d, want 6", rec.LastSeenCounter)
	}
}

func TestListOrdersByMostRecentlyUpdated(t *testing.T) {
	store := NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
	if _, err := store.BeginProvision("AAAAAAAAAAAAAA"); err != nil {
		t.Fatalf("BeginProvision: %v", err)
	}
	if _, err := store.BeginProvision("BBBBBBBBBBBBBB"); err != nil {
		t.Fatalf("BeginProvision: %v", err)
	}
	// Touch the first record again so it becomes the most recently updated.
	if _, err := store.Advance("AAAAAAAAAAAAAA", StateKeysRotated, ""); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	recs, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("List returned %d records, want 2", len(recs))
	}
	if recs[0].UID != "AAAAAAAAAAAAAA" {
		t.Fatalf("List[0].UID = %s, want the most recently advanced UID", recs[0].UID)
	}
}
