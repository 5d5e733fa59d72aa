package analyzer

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
)

// Ledger sizing: eviction kicks in above highWater and trims the oldest
// entries down to lowWater in one go, so steady state hovers between the
// two instead of evicting on every insert.
const (
	ledgerHighWater = 25000
	ledgerLowWater  = 20000
)

type lineFingerprint [16]byte

// fingerprintLine builds the dedup identity of a log line from the trimmed
// line text, the resolved timestamp and the trimmed length. The timestamp
// is part of the identity so two textually identical lines resolved to
// different instants (one per inferred year) stay distinct. The murmur3
// hash is unseeded, fingerprints must be stable across invocations.
func fingerprintLine(line string, ts time.Time) lineFingerprint {
	trimmed := strings.TrimSpace(line)

	buf := make([]byte, 0, len(trimmed)+48)
	buf = append(buf, trimmed...)
	buf = append(buf, 0)
	buf = ts.UTC().AppendFormat(buf, time.RFC3339)
	buf = append(buf, 0)
	buf = strconv.AppendInt(buf, int64(len(trimmed)), 10)

	h1, h2 := murmur3.Sum128(buf)

	var fp lineFingerprint
	binary.BigEndian.PutUint64(fp[:8], h1)
	binary.BigEndian.PutUint64(fp[8:], h2)

	return fp
}

type ledgerEntry struct {
	fp  lineFingerprint
	seq uint64
}

// dedupLedger tracks fingerprints of already handled lines in insertion
// order. Eviction is strictly oldest-inserted-first: a duplicate hit does
// not refresh an entry, so a line that keeps reappearing in the log cannot
// pin its fingerprint forever.
type dedupLedger struct {
	seqs      map[lineFingerprint]uint64
	order     []ledgerEntry
	nextSeq   uint64
	highWater int
	lowWater  int

	// Changes since the last persist, consumed by the state store.
	added   []ledgerEntry
	evicted []lineFingerprint
}

func newDedupLedger() *dedupLedger {
	return &dedupLedger{
		seqs:      map[lineFingerprint]uint64{},
		highWater: ledgerHighWater,
		lowWater:  ledgerLowWater,
	}
}

// restore rebuilds the ledger from persisted entries. Sequence numbers
// continue where the previous run left off.
func (dl *dedupLedger) restore(entries []ledgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	for _, entry := range entries {
		dl.seqs[entry.fp] = entry.seq
		if entry.seq >= dl.nextSeq {
			dl.nextSeq = entry.seq + 1
		}
	}
	dl.order = entries
}

// admit records a fingerprint and reports whether it was new. The caller
// is expected to call this before the analysis window check: a line
// dropped as out-of-window stays recorded, the window only moves forward
// so the line can never become admissible later.
func (dl *dedupLedger) admit(fp lineFingerprint) bool {
	if _, ok := dl.seqs[fp]; ok {
		return false
	}

	entry := ledgerEntry{fp: fp, seq: dl.nextSeq}
	dl.nextSeq++
	dl.seqs[fp] = entry.seq
	dl.order = append(dl.order, entry)
	dl.added = append(dl.added, entry)

	if len(dl.seqs) > dl.highWater {
		dl.evictOldest(len(dl.seqs) - dl.lowWater)
	}

	return true
}

func (dl *dedupLedger) evictOldest(n int) {
	if n > len(dl.order) {
		n = len(dl.order)
	}
	for _, entry := range dl.order[:n] {
		delete(dl.seqs, entry.fp)
		dl.evicted = append(dl.evicted, entry.fp)
	}
	dl.order = append([]ledgerEntry(nil), dl.order[n:]...)
}

func (dl *dedupLedger) size() int {
	return len(dl.seqs)
}
