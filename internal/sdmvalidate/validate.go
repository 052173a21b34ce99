// Package sdmvalidate checks tap URLs emitted by SDM-enabled tags: it
// recomputes the CMAC embedded in an SDM URL using pkg/ntag424's stateless
// derivation, then enforces the per-UID monotonic read-counter policy
// against internal/keystore.
package sdmvalidate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/barnettlynn/dna424/internal/keystore"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

const sdmMACKeySlot = 3

// Result reports the outcome of validating one SDM URL.
type Result struct {
	UID       string
	Counter   uint32
	MatchCMAC bool
}

// Validator checks SDM URLs against a key store, serializing the
// monotonic-counter check per UID while allowing distinct UIDs to validate
// concurrently.
type Validator struct {
	store keystore.Store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a Validator backed by store.
func New(store keystore.Store) *Validator {
	return &Validator{store: store, locks: make(map[string]*sync.Mutex)}
}

func (v *Validator) lockFor(uid string) *sync.Mutex {
	v.locksMu.Lock()
	defer v.locksMu.Unlock()
	m, ok := v.locks[uid]
	if !ok {
		m = &sync.Mutex{}
		v.locks[uid] = m
	}
	return m
}

// Validate parses rawURL, looks up the UID's SDM MAC key and last-seen
// counter, rejects replays, verifies the CMAC, and — only on a verified,
// non-replayed read — advances the stored counter. Unknown UIDs and CMAC
// mismatches fail closed: the stored counter is never advanced on failure —
// the counter update is the only side effect a validation can have.
func (v *Validator) Validate(rawURL string) (*Result, error) {
	uid, _, _, err := ntag424.ParseSDMURL(rawURL)
	if err != nil {
		return nil, err
	}
	uid = strings.ToUpper(uid)

	lock := v.lockFor(uid)
	lock.Lock()
	defer lock.Unlock()

	rec, err := v.store.Get(uid)
	if err != nil {
		return nil, &ntag424.ValidationError{Reason: fmt.Sprintf("unknown UID %s: %v", uid, err)}
	}
	if rec.State != keystore.StateProvisioned {
		return nil, &ntag424.ValidationError{Reason: fmt.Sprintf("UID %s is not provisioned (state=%s)", uid, rec.State)}
	}

	match, counter, _, err := ntag424.VerifySDMMACDetailed(rawURL, rec.Keys[sdmMACKeySlot][:])
	if err != nil {
		return nil, err
	}
	result := &Result{UID: uid, Counter: counter, MatchCMAC: match}
	if !match {
		return result, &ntag424.ValidationError{Reason: "CMAC mismatch"}
	}

	if counter <= rec.LastSeenCounter {
		return result, &ntag424.ValidationError{Reason: fmt.Sprintf(
			"counter %d is not greater than last seen %d (replay or out-of-order read)", counter, rec.LastSeenCounter)}
	}

	if err := v.store.UpdateCounter(uid, counter); err != nil {
		return result, err
	}
	return result, nil
}
