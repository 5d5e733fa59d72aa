package analyzer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	json "github.com/goccy/go-json"
)

// Key layout in the pebble store. Everything is versioned so a future
// format change can migrate records instead of tripping over them.
const (
	snapshotKeyPrefix    = "aggregate:v1:"
	fingerprintKeyPrefix = "fp:v1:"
	lastRunKey           = "meta:v1:last-run"
)

type stateStore struct {
	db  *pebble.DB
	log *slog.Logger
}

// openStateStore opens (creating if needed) the pebble database under
// dataDir. Pebble holds a directory lock, so a second invocation pointed
// at the same data-dir fails here instead of interleaving writes.
func openStateStore(logger *slog.Logger, dataDir string) (*stateStore, error) {
	pdbDir := filepath.Join(dataDir, "pebble")
	pdb, err := pebble.Open(pdbDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("openStateStore: unable to open pebble database: %s: %w", pdbDir, err)
	}

	return &stateStore{db: pdb, log: logger}, nil
}

func (ss *stateStore) Close() error {
	return ss.db.Close()
}

// engineState is the in-memory working set for one run: every stored day
// snapshot, the dedup ledger and the previous run marker.
type engineState struct {
	snapshots map[string]*DailySnapshot
	ledger    *dedupLedger
	lastRun   time.Time
	dirty     map[string]struct{}
}

func newEngineState() *engineState {
	return &engineState{
		snapshots: map[string]*DailySnapshot{},
		ledger:    newDedupLedger(),
		dirty:     map[string]struct{}{},
	}
}

// snapshotFor returns the snapshot for a date key, creating it on first
// use and marking it for persistence.
func (st *engineState) snapshotFor(date string) *DailySnapshot {
	snap, ok := st.snapshots[date]
	if !ok {
		snap = newDailySnapshot(date)
		st.snapshots[date] = snap
	}
	st.dirty[date] = struct{}{}
	return snap
}

// peek returns a snapshot without creating or dirtying anything.
func (st *engineState) peek(date string) *DailySnapshot {
	return st.snapshots[date]
}

func (st *engineState) sortedDates() []string {
	dates := make([]string, 0, len(st.snapshots))
	for date := range st.snapshots {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// load reads the whole store into memory. Records that fail to decode are
// logged and skipped, the run continues with whatever loaded cleanly.
func (ss *stateStore) load() *engineState {
	st := newEngineState()

	iter, err := ss.db.NewIter(nil)
	if err != nil {
		ss.log.Error("load: unable to iterate state store, starting empty", "error", err)
		return st
	}
	defer func() {
		if err := iter.Close(); err != nil {
			ss.log.Error("load: unable to close iterator", "error", err)
		}
	}()

	var entries []ledgerEntry

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		switch {
		case strings.HasPrefix(key, snapshotKeyPrefix):
			date := key[len(snapshotKeyPrefix):]
			snap := newDailySnapshot(date)
			if err := json.Unmarshal(iter.Value(), snap); err != nil {
				ss.log.Warn("load: skipping unreadable day snapshot", "date", date, "error", err)
				continue
			}
			if err := snap.hydrateSketches(); err != nil {
				ss.log.Warn("load: skipping day snapshot with bad sketch", "date", date, "error", err)
				continue
			}
			st.snapshots[date] = snap
		case strings.HasPrefix(key, fingerprintKeyPrefix):
			rest := key[len(fingerprintKeyPrefix):]
			if len(rest) != len(lineFingerprint{}) || len(iter.Value()) != 8 {
				ss.log.Warn("load: skipping malformed fingerprint record", "key", key)
				continue
			}
			var fp lineFingerprint
			copy(fp[:], rest)
			entries = append(entries, ledgerEntry{fp: fp, seq: binary.BigEndian.Uint64(iter.Value())})
		case key == lastRunKey:
			lastRun, err := time.Parse(time.RFC3339, string(iter.Value()))
			if err != nil {
				ss.log.Warn("load: skipping unreadable last-run marker", "error", err)
				continue
			}
			st.lastRun = lastRun
		default:
			ss.log.Warn("load: skipping unknown key", "key", key)
		}
	}

	st.ledger.restore(entries)

	return st
}

// save writes all dirty snapshots, the ledger delta and the last-run
// marker in a single synced batch: either the whole run commits or none
// of it does.
func (ss *stateStore) save(st *engineState, now time.Time) error {
	batch := ss.db.NewBatch()
	defer func() {
		if err := batch.Close(); err != nil {
			ss.log.Error("save: unable to close batch", "error", err)
		}
	}()

	for date := range st.dirty {
		snap, ok := st.snapshots[date]
		if !ok {
			continue
		}
		snap.serializeSketches()
		value, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("save: unable to encode day snapshot %s: %w", date, err)
		}
		if err := batch.Set([]byte(snapshotKeyPrefix+date), value, nil); err != nil {
			return fmt.Errorf("save: unable to stage day snapshot %s: %w", date, err)
		}
	}

	var seqValue [8]byte
	for _, entry := range st.ledger.added {
		binary.BigEndian.PutUint64(seqValue[:], entry.seq)
		key := append([]byte(fingerprintKeyPrefix), entry.fp[:]...)
		if err := batch.Set(key, seqValue[:], nil); err != nil {
			return fmt.Errorf("save: unable to stage fingerprint: %w", err)
		}
	}

	// Deletes are staged after the adds so a fingerprint admitted and
	// evicted within the same run ends up deleted.
	for _, fp := range st.ledger.evicted {
		key := append([]byte(fingerprintKeyPrefix), fp[:]...)
		if err := batch.Delete(key, nil); err != nil {
			return fmt.Errorf("save: unable to stage fingerprint delete: %w", err)
		}
	}

	if err := batch.Set([]byte(lastRunKey), []byte(now.Format(time.RFC3339)), nil); err != nil {
		return fmt.Errorf("save: unable to stage last-run marker: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("save: unable to commit state: %w", err)
	}

	st.dirty = map[string]struct{}{}
	st.ledger.added = nil
	st.ledger.evicted = nil
	st.lastRun = now

	return nil
}

// sweep deletes day snapshots older than keepDays, counted back from the
// day of now. The boundary day itself (exactly keepDays ago) is retained.
// Sweeping an already swept store removes nothing.
func (ss *stateStore) sweep(st *engineState, now time.Time, keepDays int) (int, int64, error) {
	cutoff := dateKey(startOfDay(now).AddDate(0, 0, -keepDays))

	batch := ss.db.NewBatch()
	defer func() {
		if err := batch.Close(); err != nil {
			ss.log.Error("sweep: unable to close batch", "error", err)
		}
	}()

	removed := 0
	var reclaimed int64

	for _, date := range st.sortedDates() {
		// Date keys are zero padded ISO dates so string order is date
		// order.
		if date >= cutoff {
			continue
		}

		key := []byte(snapshotKeyPrefix + date)
		value, closer, err := ss.db.Get(key)
		if err == nil {
			reclaimed += int64(len(value))
			if err := closer.Close(); err != nil {
				ss.log.Error("sweep: unable to close pebble get", "error", err)
			}
		} else if !errors.Is(err, pebble.ErrNotFound) {
			return 0, 0, fmt.Errorf("sweep: unable to read day snapshot %s: %w", date, err)
		}

		if err := batch.Delete(key, nil); err != nil {
			return 0, 0, fmt.Errorf("sweep: unable to stage delete of day %s: %w", date, err)
		}

		delete(st.snapshots, date)
		delete(st.dirty, date)
		removed++
		ss.log.Debug("sweep: removing expired day", "date", date)
	}

	if removed == 0 {
		return 0, 0, nil
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, 0, fmt.Errorf("sweep: unable to commit deletes: %w", err)
	}

	return removed, reclaimed, nil
}
