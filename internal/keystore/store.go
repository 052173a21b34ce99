// Package keystore persists per-tag provisioning state: the UID, the five
// AES-128 key slots issued to that tag, and which provisioning stage it has
// reached. It uses a two-phase commit so a crash or dropped tag mid-write
// leaves the record in a recoverable Pending state rather than silently
// corrupting the "known good" key material for a UID.
package keystore

import (
	"bufio"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/barnettlynn/dna424/pkg/ntag424"
)

// State names the provisioning stage a tag has reached, one per session
// boundary in the three-session provisioning flow.
type State string

const (
	StatePending     State = "pending"
	StateKeysRotated State = "keys_rotated"
	StateNDEFWritten State = "ndef_written"
	StateProvisioned State = "provisioned"
	StateAbandoned   State = "abandoned"
)

const numKeySlots = 5

// KeyRecord is one tag's persisted provisioning state.
type KeyRecord struct {
	UID        string // 14-char uppercase hex (7 bytes)
	Keys       [numKeySlots][16]byte
	KeyVersion byte
	State      State
	SDMURL     string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// LastSeenCounter is the highest SDM read-counter internal/sdmvalidate
	// has accepted for this UID. Monotonically non-decreasing;
	// starts at 0 for a freshly provisioned tag.
	LastSeenCounter uint32
}

// Store is the key-store contract used by internal/provision. A UID may
// have at most one live (non-abandoned) record at a time.
type Store interface {
	// BeginProvision reserves a new Pending record for uid, generating fresh
	// random keys for every slot via crypto/rand. Returns a KeyStoreError if
	// a live record for uid already exists.
	BeginProvision(uid string) (*KeyRecord, error)
	// Advance moves an existing record to a new state and persists it,
	// snapshotting the prior on-disk state first.
	Advance(uid string, state State, sdmURL string) (*KeyRecord, error)
	// Commit marks a record Provisioned; terminal, successful state.
	Commit(uid string) (*KeyRecord, error)
	// Abort marks a record Abandoned; the keys are retained for forensic
	// inspection but the UID is considered not usably provisioned.
	Abort(uid string, reason string) error
	// Get returns the current record for uid.
	Get(uid string) (*KeyRecord, error)
	// List returns every record, most recently updated first.
	List() ([]*KeyRecord, error)
	// UpdateCounter persists a new LastSeenCounter for uid, used by
	// internal/sdmvalidate after accepting a replay-checked SDM read.
	// Returns a KeyStoreError if counter does not exceed the stored value,
	// so callers that fumble the monotonicity check themselves still get a
	// hard backstop here.
	UpdateCounter(uid string, counter uint32) error
}

// CSVStore is a Store backed by a single CSV file, one row per UID, keys
// hex-encoded, with a ".bak" snapshot written before every mutation so key
// material is never overwritten in place.
type CSVStore struct {
	mu   sync.Mutex
	path string
}

// NewCSVStore opens (without yet creating) a CSV-backed store at path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) BeginProvision(uid string) (*KeyRecord, error) {
	uid = strings.ToUpper(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, &ntag424.KeyStoreError{Op: "begin_provision", Err: err}
	}
	if rec, ok := records[uid]; ok && rec.State != StateAbandoned {
		return nil, &ntag424.KeyStoreError{Op: "begin_provision", Err: fmt.Errorf("UID %s already has a live record in state %s", uid, rec.State)}
	}

	rec := &KeyRecord{UID: uid, State: StatePending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	for i := range rec.Keys {
		if _, err := io.ReadFull(rand.Reader, rec.Keys[i][:]); err != nil {
			return nil, &ntag424.KeyStoreError{Op: "begin_provision", Err: fmt.Errorf("generate key slot %d: %w", i, err)}
		}
	}

	records[uid] = rec
	if err := s.snapshotAndSave(records); err != nil {
		return nil, &ntag424.KeyStoreError{Op: "begin_provision", Err: err}
	}
	return rec, nil
}

func (s *CSVStore) Advance(uid string, state State, sdmURL string) (*KeyRecord, error) {
	uid = strings.ToUpper(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, &ntag424.KeyStoreError{Op: "advance", Err: err}
	}
	rec, ok := records[uid]
	if !ok {
		return nil, &ntag424.KeyStoreError{Op: "advance", Err: fmt.Errorf("no record for UID %s", uid)}
	}
	rec.State = state
	if sdmURL != "" {
		rec.SDMURL = sdmURL
	}
	rec.UpdatedAt = time.Now()

	if err := s.snapshotAndSave(records); err != nil {
		return nil, &ntag424.KeyStoreError{Op: "advance", Err: err}
	}
	return rec, nil
}

func (s *CSVStore) Commit(uid string) (*KeyRecord, error) {
	return s.Advance(uid, StateProvisioned, "")
}

func (s *CSVStore) Abort(uid string, reason string) error {
	uid = strings.ToUpper(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return &ntag424.KeyStoreError{Op: "abort", Err: err}
	}
	rec, ok := records[uid]
	if !ok {
		return &ntag424.KeyStoreError{Op: "abort", Err: fmt.Errorf("no record for UID %s", uid)}
	}
	rec.State = StateAbandoned
	rec.UpdatedAt = time.Now()
	_ = reason // surfaced via logging by the caller, not persisted per-row

	return s.snapshotAndSave(records)
}

func (s *CSVStore) Get(uid string) (*KeyRecord, error) {
	uid = strings.ToUpper(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, &ntag424.KeyStoreError{Op: "get", Err: err}
	}
	rec, ok := records[uid]
	if !ok {
		return nil, &ntag424.KeyStoreError{Op: "get", Err: fmt.Errorf("no record for UID %s", uid)}
	}
	return rec, nil
}

func (s *CSVStore) UpdateCounter(uid string, counter uint32) error {
	uid = strings.ToUpper(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return &ntag424.KeyStoreError{Op: "update_counter", Err: err}
	}
	rec, ok := records[uid]
	if !ok {
		return &ntag424.KeyStoreError{Op: "update_counter", Err: fmt.Errorf("no record for UID %s", uid)}
	}
	if counter <= rec.LastSeenCounter {
		return &ntag424.KeyStoreError{Op: "update_counter", Err: fmt.Errorf(
			"counter %d does not exceed last seen %d for UID %s", counter, rec.LastSeenCounter, uid)}
	}
	rec.LastSeenCounter = counter
	rec.UpdatedAt = time.Now()

	if err := s.snapshotAndSave(records); err != nil {
		return &ntag424.KeyStoreError{Op: "update_counter", Err: err}
	}
	return nil
}

func (s *CSVStore) List() ([]*KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, &ntag424.KeyStoreError{Op: "list", Err: err}
	}
	out := make([]*KeyRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// Columns: uid, state, key_version, sdm_url, created_at, updated_at,
// last_seen_counter, then one hex column per key slot.
const csvFixedColumns = 7

func (s *CSVStore) load() (map[string]*KeyRecord, error) {
	records := make(map[string]*KeyRecord)

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse key store CSV: %w", err)
	}
	if len(rows) == 0 {
		return records, nil
	}

	for _, row := range rows[1:] {
		if len(row) < csvFixedColumns+numKeySlots {
			return nil, fmt.Errorf("key store row has %d fields, want %d", len(row), csvFixedColumns+numKeySlots)
		}
		rec := &KeyRecord{
			UID:   row[0],
			State: State(row[1]),
		}
		var kv int
		if _, err := fmt.Sscanf(row[2], "%d", &kv); err != nil {
			return nil, fmt.Errorf("bad key_version for UID %s: %w", rec.UID, err)
		}
		rec.KeyVersion = byte(kv)
		rec.SDMURL = row[3]
		rec.CreatedAt, err = time.Parse(time.RFC3339, row[4])
		if err != nil {
			return nil, fmt.Errorf("bad created_at for UID %s: %w", rec.UID, err)
		}
		rec.UpdatedAt, err = time.Parse(time.RFC3339, row[5])
		if err != nil {
			return nil, fmt.Errorf("bad updated_at for UID %s: %w", rec.UID, err)
		}
		var ctr uint64
		if _, err := fmt.Sscanf(row[6], "%d", &ctr); err != nil {
			return nil, fmt.Errorf("bad last_seen_counter for UID %s: %w", rec.UID, err)
		}
		rec.LastSeenCounter = uint32(ctr)
		for i := 0; i < numKeySlots; i++ {
			kb, err := hex.DecodeString(row[csvFixedColumns+i])
			if err != nil || len(kb) != 16 {
				return nil, fmt.Errorf("bad key slot %d for UID %s", i, rec.UID)
			}
			copy(rec.Keys[i][:], kb)
		}
		records[rec.UID] = rec
	}
	return records, nil
}

func (s *CSVStore) snapshotAndSave(records map[string]*KeyRecord) error {
	if _, err := os.Stat(s.path); err == nil {
		backup := s.path + ".bak"
		content, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("snapshot read: %w", err)
		}
		if err := os.WriteFile(backup, content, 0o600); err != nil {
			return fmt.Errorf("snapshot write: %w", err)
		}
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key store dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	header := []string{"uid", "state", "key_version", "sdm_url", "created_at", "updated_at", "last_seen_counter"}
	for i := 0; i < numKeySlots; i++ {
		header = append(header, fmt.Sprintf("key%d", i))
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.UID,
			string(rec.State),
			fmt.Sprintf("%d", rec.KeyVersion),
			rec.SDMURL,
			rec.CreatedAt.Format(time.RFC3339Nano),
			rec.UpdatedAt.Format(time.RFC3339Nano),
			fmt.Sprintf("%d", rec.LastSeenCounter),
		}
		for i := 0; i < numKeySlots; i++ {
			row = append(row, strings.ToUpper(hex.EncodeToString(rec.Keys[i][:])))
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
