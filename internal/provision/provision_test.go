package provision

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/barnettlynn/dna424/internal/keystore"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

func newStore(t *testing.T) keystore.Store {
	t.Helper()
	return keystore.NewCSVStore(filepath.Join(t.TempDir(), "keys.csv"))
}

func TestProvisionFactoryTagEndToEnd(t *testing.T) {
	card := ntag424.NewSimCard(zeroKey)
	store := newStore(t)
	uid := "0403020100FF7E"

	result, err := Provision(card, store, uid, Options{
		BaseURL:     "https://example.com/sdm",
		SDMFileRead: SDMFileReadCMAC,
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if result.Record.State != keystore.StateProvisioned {
		t.Fatalf("final state = %s, want %s", result.Record.State, keystore.StateProvisioned)
	}

	// PICC master key must have rotated off the factory value.
	if got := card.Key(keySlotPICCMaster); bytes.Equal(got[:], zeroKey) {
		t.Fatalf("PICC master key was not rotated")
	}
	if got, want := card.Key(keySlotPICCMaster), result.Record.Keys[keySlotPICCMaster]; !bytes.Equal(got[:], want[:]) {
		t.Fatalf("tag key 0 = %X, want the key store's value %X", got, want)
	}
	if got, want := card.Key(keySlotSDMMAC), result.Record.Keys[keySlotSDMMAC]; !bytes.Equal(got[:], want[:]) {
		t.Fatalf("tag SDM MAC key = %X, want the key store's value %X", got, want)
	}

	// The written NDEF must embed the SDM URL's static prefix.
	if !bytes.Contains(card.NDEF(), []byte("example.com/sdm")) {
		t.Fatalf("written NDEF does not contain the expected URL")
	}

	rec, err := store.Get(uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.SDMURL != result.SDMURL {
		t.Fatalf("stored SDMURL = %q, want %q", rec.SDMURL, result.SDMURL)
	}
}

func TestProvisionAndroidCompatModeDisablesCMACFileAccess(t *testing.T) {
	card := ntag424.NewSimCard(zeroKey)
	store := newStore(t)
	uid := "1403020100FF7E"

	if _, err := Provision(card, store, uid, Options{
		BaseURL:     "https://example.com/sdm",
		SDMFileRead: SDMFileReadNever,
	}); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	fs, err := ntag424.GetFileSettingsPlain(card, ndefFileNo)
	if err != nil {
		t.Fatalf("GetFileSettingsPlain: %v", err)
	}
	if fs.SDMFile != byte(SDMFileReadNever) {
		t.Fatalf("SDMFile access = %02X, want %02X (never/free)", fs.SDMFile, byte(SDMFileReadNever))
	}
}

func TestProvisionRejectsInvalidSDMFileRead(t *testing.T) {
	card := ntag424.NewSimCard(zeroKey)
	store := newStore(t)

	_, err := Provision(card, store, "2403020100FF7E", Options{
		BaseURL:     "https://example.com/sdm",
		SDMFileRead: SDMFileReadMode(0x0E),
	})
	if err == nil {
		t.Fatalf("expected the RFU SDMFileRead value 0x0E to be rejected")
	}
}

func TestProvisionAbandonsOnMidFlightFailure(t *testing.T) {
	// Pre-rotate the tag's key 0 away from the factory value without
	// telling the key store, so Session A's authentication fails.
	card := ntag424.NewSimCard(bytes.Repeat([]byte{0x99}, 16))
	store := newStore(t)
	uid := "3403020100FF7E"

	if _, err := Provision(card, store, uid, Options{BaseURL: "https://example.com/sdm", SDMFileRead: SDMFileReadCMAC}); err == nil {
		t.Fatalf("expected provisioning to fail when the factory key is wrong")
	}

	rec, err := store.Get(uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.State != keystore.StateAbandoned {
		t.Fatalf("State = %s, want %s after a failed run", rec.State, keystore.StateAbandoned)
	}
}

func TestFormatRunsAgainstTheCurrentKey(t *testing.T) {
	card := ntag424.NewSimCard(zeroKey)
	if err := Format(card, zeroKey); err != nil {
		t.Fatalf("Format: %v", err)
	}
}

func TestFormatSurfacesDisabledFormatCommand(t *testing.T) {
	card := ntag424.NewSimCard(zeroKey)
	card.SetFormatDisabled(true)
	if err := Format(card, zeroKey); err == nil {
		t.Fatalf("expected Format to fail when FormatPICC is disabled")
	}
}

func TestUIDHexUppercases(t *testing.T) {
	got := UIDHex([]byte{0x04, 0xAB, 0xCD, 0x01, 0x02, 0x03, 0x04})
	if got != "04ABCD01020304" {
		t.Fatalf("UIDHex = %s, want 04ABCD01020304", got)
	}
}
