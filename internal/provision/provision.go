// Package provision drives the three-session factory-to-provisioned flow,
// wrapped in the key store's two-phase commit: fresh keys are reserved as a
// Pending record before the first APDU goes out, and the record is marked
// Provisioned only after SDM is enabled on the tag. Three separate
// authenticated sessions are required because ChangeKey on key 0
// invalidates the session that issued it, and the NDEF file must be written
// while its access rights are still factory-free, before SDM locks them.
package provision

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/barnettlynn/dna424/internal/keystore"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

const (
	ndefFileNo = 0x02 // file 0x02 = NDEF file (0xE104)

	keySlotPICCMaster = 0
	keySlotAppRead    = 1
	keySlotSDMMAC     = 3

	sdmMetaPlain = 0x0E
)

// SDMFileReadMode selects the CMAC-mirroring vs Android-compatibility
// trade-off for the SDMFileRead access nibble.
type SDMFileReadMode byte

const (
	// SDMFileReadCMAC enables CMAC mirroring (requires auth to read the
	// file; Android's background dispatcher cannot do this).
	SDMFileReadCMAC SDMFileReadMode = keySlotSDMMAC
	// SDMFileReadNever (0xF) permits free reads and Android auto-launch,
	// but disables CMAC mirroring entirely.
	SDMFileReadNever SDMFileReadMode = 0x0F
)

// Options configures one provisioning run.
type Options struct {
	// BaseURL is the SDM URL template written to the tag, e.g.
	// "https://example.com/sdm".
	BaseURL string
	// SDMFileRead selects CMAC-mirroring vs Android-compat mode. Must be
	// SDMFileReadCMAC or SDMFileReadNever; 0x0E is RFU and rejected.
	SDMFileRead SDMFileReadMode
}

// Result is the outcome of a successful provisioning run.
type Result struct {
	UID    string
	SDMURL string
	Record *keystore.KeyRecord
}

var zeroKey = make([]byte, 16)

// Provision runs Sessions A, B, and C against card for uid, generating
// fresh key material via store.BeginProvision and committing it only after
// Session C's ChangeFileSettings succeeds. On any failure the reserved
// record is marked Abandoned via store.Abort, keeping the partial keys for
// recovery. Abort overwrites the record's state, so the sub-state reached
// before the failure is not kept in the record; the failing phase is only
// logged.
func Provision(card ntag424.Card, store keystore.Store, uid string, opts Options) (*Result, error) {
	if opts.SDMFileRead != SDMFileReadNever {
		switch byte(opts.SDMFileRead) {
		case 0, 1, 2, 3, 4:
		default:
			return nil, fmt.Errorf("invalid SDMFileRead 0x%02X: must be a key slot 0-4 or 0x0F (never)", byte(opts.SDMFileRead))
		}
	}

	uid = strings.ToUpper(uid)
	rec, err := store.BeginProvision(uid)
	if err != nil {
		return nil, fmt.Errorf("begin provision %s: %w", uid, err)
	}

	if err := runSessionA(card, rec); err != nil {
		abort(store, uid, "Session A: ChangeKey(0)", err)
		return nil, err
	}
	if _, err := store.Advance(uid, keystore.StateKeysRotated, ""); err != nil {
		abort(store, uid, "Session A: persist keys_rotated", err)
		return nil, err
	}

	if err := runSessionB(card, rec); err != nil {
		abort(store, uid, "Session B: ChangeKey(1)/ChangeKey(3)", err)
		return nil, err
	}

	sdm, err := ntag424.BuildSDMNDEF(opts.BaseURL)
	if err != nil {
		abort(store, uid, "Session C: build NDEF", err)
		return nil, err
	}
	if _, err := store.Advance(uid, keystore.StateNDEFWritten, sdm.URL); err != nil {
		abort(store, uid, "Session C: persist ndef_written", err)
		return nil, err
	}

	if err := runSessionC(card, rec, sdm, opts.SDMFileRead); err != nil {
		abort(store, uid, "Session C: ChangeFileSettings", err)
		return nil, err
	}

	final, err := store.Commit(uid)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", uid, err)
	}

	slog.Info("tag provisioned", "uid", uid, "url", sdm.URL)
	return &Result{UID: uid, SDMURL: sdm.URL, Record: final}, nil
}

func abort(store keystore.Store, uid, phase string, cause error) {
	slog.Error("provisioning failed", "uid", uid, "phase", phase, "error", cause)
	if err := store.Abort(uid, fmt.Sprintf("%s: %v", phase, cause)); err != nil {
		slog.Error("failed to record abort", "uid", uid, "error", err)
	}
}

// runSessionA authenticates with the factory key at slot 0 and rotates the
// PICC master key, then closes the (now tag-invalidated) session.
func runSessionA(card ntag424.Card, rec *keystore.KeyRecord) error {
	sess, err := ntag424.OpenSession(card, zeroKey, keySlotPICCMaster)
	if err != nil {
		return fmt.Errorf("authenticate slot 0 (factory key): %w", err)
	}
	defer sess.Close()

	if err := ntag424.ChangeKeySame(card, sess, keySlotPICCMaster, rec.Keys[keySlotPICCMaster][:], rec.KeyVersion); err != nil {
		return fmt.Errorf("ChangeKey(0): %w", err)
	}
	return nil
}

// runSessionB authenticates with the new key 0 and rotates the application
// read key and SDM MAC key from their factory values.
func runSessionB(card ntag424.Card, rec *keystore.KeyRecord) error {
	sess, err := ntag424.OpenSession(card, rec.Keys[keySlotPICCMaster][:], keySlotPICCMaster)
	if err != nil {
		return fmt.Errorf("authenticate slot 0 (new key): %w", err)
	}
	defer sess.Close()

	if err := ntag424.ChangeKey(card, sess, keySlotAppRead, rec.Keys[keySlotAppRead][:], zeroKey, rec.KeyVersion, keySlotPICCMaster); err != nil {
		return fmt.Errorf("ChangeKey(1): %w", err)
	}
	if err := ntag424.ChangeKey(card, sess, keySlotSDMMAC, rec.Keys[keySlotSDMMAC][:], zeroKey, rec.KeyVersion, keySlotPICCMaster); err != nil {
		return fmt.Errorf("ChangeKey(3): %w", err)
	}
	return nil
}

// runSessionC writes the NDEF file in plain mode (file access rights are
// still factory-default FREE at this point — SDM has not been enabled
// yet), then authenticates and enables SDM via ChangeFileSettings. NDEF
// must be written *before* enabling SDM: once SDM is on, Write is no
// longer FREE and the offsets named in ChangeFileSettings would point at
// stale or zeroed content, which the tag rejects with a parameter error.
func runSessionC(card ntag424.Card, rec *keystore.KeyRecord, sdm *ntag424.SDMNDEF, sdmFileRead SDMFileReadMode) error {
	if err := ntag424.WriteNDEFPlain(card, sdm.NDEF); err != nil {
		return fmt.Errorf("write NDEF (plain): %w", err)
	}

	sess, err := ntag424.OpenSession(card, rec.Keys[keySlotPICCMaster][:], keySlotPICCMaster)
	if err != nil {
		return fmt.Errorf("authenticate slot 0 for ChangeFileSettings: %w", err)
	}
	defer sess.Close()

	const (
		sdmOptionsUIDCtrASCII = 0xC1 // UID mirror | CTR mirror | ASCII encoding
		readWriteKeyNo        = keySlotPICCMaster
		changeAccessKeyNo     = keySlotPICCMaster
		readKeyNoFree         = 0x0E
		writeKeyNo            = keySlotPICCMaster
	)
	ar1 := byte((readWriteKeyNo << 4) | changeAccessKeyNo)
	ar2 := byte((readKeyNoFree << 4) | writeKeyNo)

	if err := ntag424.ChangeFileSettingsSDM(card, sess, ndefFileNo, 0x00, ar1, ar2,
		sdmOptionsUIDCtrASCII, sdmMetaPlain, byte(sdmFileRead), byte(sdmFileRead),
		sdm.UIDOffset, sdm.CtrOffset, sdm.MacInputOffset, sdm.CmacOffset); err != nil {
		return fmt.Errorf("ChangeFileSettings(SDM): %w", err)
	}
	return nil
}

// Format runs FormatPICC, a separate one-session operation that erases
// application data while leaving key material untouched. key0 is the
// current PICC master key (factory zero for
// an unprovisioned tag, or the stored key for a previously provisioned
// one). A tag with FormatPICC permanently disabled surfaces IllegalCommand,
// which the caller must treat as terminal and non-retryable.
func Format(card ntag424.Card, key0 []byte) error {
	sess, err := ntag424.OpenSession(card, key0, keySlotPICCMaster)
	if err != nil {
		return fmt.Errorf("authenticate slot 0: %w", err)
	}
	defer sess.Close()

	if err := ntag424.FormatPICC(card, sess); err != nil {
		return fmt.Errorf("FormatPICC: %w", err)
	}
	return nil
}

// UIDHex renders a 7-byte UID as the uppercase hex string used throughout
// the key store and SDM URLs.
func UIDHex(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}
