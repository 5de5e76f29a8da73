package domain

import "time"

// AuditRecord is one entry in the tamper-evident decision log. Every
// cost-bearing or state-mutating action produces exactly one of these.
type AuditRecord struct {
	Index          int64 // monotonically numbered within its batch
	Agent          string
	Action         string
	Reasoning      string
	Input          map[string]interface{}
	Outcome        string
	CostImpact     float64
	Duration       time.Duration
	SafetyApproved bool
	Timestamp      time.Time

	// Tombstoned is set once a compliance erasure has redacted this
	// record's Reasoning/Input. Agent, Action, Outcome, CostImpact, and
	// Timestamp survive erasure so cost accounting and the tag chain
	// keep working; only free-text content is scrubbed.
	Tombstoned bool
}

// AuditBatch is an ordered, sealed sequence of records chained to the
// previous batch by an HMAC tag (see pkg/audit for sealing/verification).
type AuditBatch struct {
	Index        int64
	Records      []AuditRecord
	PrevDigest   []byte
	Tag          []byte
	SealedAt     time.Time
}

// RecordBuilder provides a fluent API for constructing an AuditRecord,
// mirroring the builder pattern used by the Audit Agent's upstream
// callers (router, scheduler, healing, cost optimizer, governor).
type RecordBuilder struct {
	record AuditRecord
}

// NewRecord starts a builder stamped with the current time and an empty
// input map.
func NewRecord(agent, action string) *RecordBuilder {
	return &RecordBuilder{record: AuditRecord{
		Agent:     agent,
		Action:    action,
		Input:     make(map[string]interface{}),
		Timestamp: time.Now(),
	}}
}

func (b *RecordBuilder) Reasoning(text string) *RecordBuilder {
	b.record.Reasoning = text
	return b
}

func (b *RecordBuilder) Outcome(outcome string) *RecordBuilder {
	b.record.Outcome = outcome
	return b
}

func (b *RecordBuilder) CostImpact(cost float64) *RecordBuilder {
	b.record.CostImpact = cost
	return b
}

func (b *RecordBuilder) Duration(d time.Duration) *RecordBuilder {
	b.record.Duration = d
	return b
}

func (b *RecordBuilder) SafetyApproved(approved bool) *RecordBuilder {
	b.record.SafetyApproved = approved
	return b
}

func (b *RecordBuilder) Meta(key string, value interface{}) *RecordBuilder {
	b.record.Input[key] = value
	return b
}

// Build returns the finished record. Index is assigned later by the Audit
// Agent when the record is appended to a batch.
func (b *RecordBuilder) Build() AuditRecord {
	return b.record
}
