// Package audit implements the Audit Agent: a single append-only channel
// that accumulates AuditRecords into size/time-bounded batches, seals
// each with an HMAC tag chained to the previous batch, and supports
// linear verification and compliance erasure.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

// Agent is the single-writer sealer: all components append through
// Append, and one goroutine should call Run to drive sealing (spec §5:
// "one Audit sealer (serializes batch emission)").
type Agent struct {
	cfg    core.AuditConfig
	logger core.Logger

	mu          sync.Mutex
	pending     []domain.AuditRecord
	batches     []domain.AuditBatch
	nextIndex   int64
	lastSealed  time.Time

	appendCh chan domain.AuditRecord
	closed   bool
}

// New builds an Agent. secret must be non-empty: it is the HMAC key
// chaining every batch to the previous one.
func New(cfg core.AuditConfig, logger core.Logger) *Agent {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Agent{
		cfg:        cfg,
		logger:     logger,
		appendCh:   make(chan domain.AuditRecord, 1024),
		lastSealed: time.Now(),
	}
}

// Append enqueues record onto the audit channel. This is the one
// component whose failure the core cannot mask: a full channel returns
// ErrAuditAppendFailed rather than blocking forever or silently dropping
// the record (spec §7).
func (a *Agent) Append(record domain.AuditRecord) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return core.ErrAuditAppendFailed
	}
	a.mu.Unlock()

	select {
	case a.appendCh <- record:
		return nil
	default:
		return core.ErrAuditAppendFailed
	}
}

// Run drains the append channel into the pending batch, sealing whenever
// the size bound or the wall-clock bound is hit (128 records or 5s,
// whichever first), until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SealInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.closed = true
			a.mu.Unlock()
			return
		case record := <-a.appendCh:
			a.mu.Lock()
			record.Index = a.nextIndex
			a.nextIndex++
			a.pending = append(a.pending, record)
			shouldSeal := len(a.pending) >= a.cfg.BatchSize
			a.mu.Unlock()
			if shouldSeal {
				a.seal()
			}
		case <-ticker.C:
			a.seal()
		}
	}
}

// seal closes out the current pending batch (if non-empty) with an HMAC
// tag chained to the previous batch's tag.
func (a *Agent) seal() error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	records := a.pending
	a.pending = nil
	batchIndex := int64(len(a.batches))
	var prevDigest []byte
	if batchIndex > 0 {
		prevDigest = a.batches[batchIndex-1].Tag
	}
	a.mu.Unlock()

	tag, err := computeTag(a.cfg.HMACSecret, records, prevDigest, batchIndex)
	if err != nil {
		return fmt.Errorf("audit: seal batch %d: %w", batchIndex, err)
	}

	batch := domain.AuditBatch{
		Index:      batchIndex,
		Records:    records,
		PrevDigest: prevDigest,
		Tag:        tag,
		SealedAt:   time.Now(),
	}

	a.mu.Lock()
	a.batches = append(a.batches, batch)
	a.lastSealed = time.Now()
	a.mu.Unlock()

	a.logger.Info("audit batch sealed", map[string]interface{}{
		"batch_index": batchIndex, "record_count": len(records),
	})
	return nil
}

// computeTag implements tag_k = HMAC(secret, records_k || tag_{k-1} ||
// index_k), serializing records deterministically via JSON.
func computeTag(secret []byte, records []domain.AuditRecord, prevTag []byte, index int64) ([]byte, error) {
	encoded, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(encoded)
	mac.Write(prevTag)
	fmt.Fprintf(mac, "%d", index)
	return mac.Sum(nil), nil
}

// Batches returns a snapshot of every sealed batch, for verification and
// replay; the slice is a copy safe to iterate without holding the lock.
func (a *Agent) Batches() []domain.AuditBatch {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditBatch, len(a.batches))
	copy(out, a.batches)
	return out
}

// Verify recomputes the full chain and reports the first divergent batch,
// delegating to the package-level Verify against the current snapshot.
func (a *Agent) Verify() VerifyResult {
	return Verify(a.cfg.HMACSecret, a.Batches())
}

// VerifyRange checks only the [from, to] subrange, delegating to the
// package-level VerifyRange (S6: "valid ranges before/after reported
// separately").
func (a *Agent) VerifyRange(from, to int64) VerifyResult {
	return VerifyRange(a.cfg.HMACSecret, a.Batches(), from, to)
}

// EraseSubject tombstones every record matching predicate and adopts the
// re-sealed chain returned by the package-level Erase, under lock so no
// seal() call races the swap. The returned record documents the erasure
// itself; callers should Append it so it takes its place in the live log
// distinct from the records it redacted.
func (a *Agent) EraseSubject(subjectID string, predicate func(domain.AuditRecord) bool) (domain.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	affected := 0
	for _, b := range a.batches {
		for _, rec := range b.Records {
			if predicate(rec) {
				affected++
			}
		}
	}

	resealed, err := Erase(a.cfg.HMACSecret, a.batches, subjectID, predicate)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	a.batches = resealed

	if affected == 0 {
		return domain.NewRecord("audit", "records_erased").
			Meta("subject_id", subjectID).
			Meta("records_affected", 0).
			Outcome("noop").
			Build(), nil
	}
	return domain.NewRecord("audit", "records_erased").
		Meta("subject_id", subjectID).
		Meta("records_affected", affected).
		Outcome("erased").
		Build(), nil
}
