package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

func testAgent(t *testing.T, batchSize int, sealInterval time.Duration) *Agent {
	t.Helper()
	return New(core.AuditConfig{
		BatchSize:    batchSize,
		SealInterval: sealInterval,
		HMACSecret:   []byte("test-secret"),
	}, core.NoOpLogger{})
}

func runFor(t *testing.T, a *Agent, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	<-done
}

func TestAgent_SealsOnBatchSize(t *testing.T) {
	a := testAgent(t, 3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Append(domain.NewRecord("router", "select").Build()))
	}

	require.Eventually(t, func() bool {
		return len(a.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	batches := a.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Records, 3)
	assert.Nil(t, batches[0].PrevDigest)
}

func TestAgent_SealsOnIntervalEvenBelowBatchSize(t *testing.T) {
	a := testAgent(t, 128, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	require.NoError(t, a.Append(domain.NewRecord("scheduler", "release").Build()))

	require.Eventually(t, func() bool {
		return len(a.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
}

func TestAgent_AppendFailsAfterRunStops(t *testing.T) {
	a := testAgent(t, 128, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return a.Append(domain.NewRecord("router", "select").Build()) == core.ErrAuditAppendFailed
	}, time.Second, 5*time.Millisecond)
}

func TestAgent_AppendFailsWhenChannelFull(t *testing.T) {
	a := testAgent(t, 128, time.Hour) // Run never started: channel never drains

	var lastErr error
	for i := 0; i < 1025; i++ {
		lastErr = a.Append(domain.NewRecord("router", "select").Build())
	}
	assert.ErrorIs(t, lastErr, core.ErrAuditAppendFailed)
}

func sealedAgent(t *testing.T, recordCount int) *Agent {
	t.Helper()
	a := testAgent(t, 3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	defer cancel()

	for i := 0; i < recordCount; i++ {
		require.NoError(t, a.Append(domain.NewRecord("governor", "check").
			Meta("seq", i).Outcome("approve").Build()))
	}
	require.Eventually(t, func() bool {
		return len(a.Batches()) == recordCount/3
	}, time.Second, 5*time.Millisecond)
	return a
}

func TestAgent_VerifyValidOnFreshlySealedRange(t *testing.T) {
	a := sealedAgent(t, 9) // three batches of three

	result := a.Verify()
	assert.True(t, result.Valid)
	assert.Equal(t, int64(-1), result.FirstDivergent)
}

func TestAgent_VerifyDetectsTamperedRecord(t *testing.T) {
	a := sealedAgent(t, 9)

	a.mu.Lock()
	a.batches[1].Records[0].Reasoning = "tampered in place"
	a.mu.Unlock()

	result := a.Verify()
	assert.False(t, result.Valid)
	assert.Equal(t, int64(1), result.FirstDivergent)

	before := a.VerifyRange(0, 0)
	assert.True(t, before.Valid)
	after := a.VerifyRange(2, 2)
	assert.True(t, after.Valid)
}

func TestAgent_EraseTombstonesAndResealsChainValid(t *testing.T) {
	a := sealedAgent(t, 9)

	record, err := a.EraseSubject("seq-1", func(rec domain.AuditRecord) bool {
		seq, _ := rec.Input["seq"].(int)
		return seq == 1
	})
	require.NoError(t, err)
	assert.Equal(t, "erased", record.Outcome)

	result := a.Verify()
	assert.True(t, result.Valid, "chain must re-verify valid after erasure re-seals forward")

	batches := a.Batches()
	assert.True(t, batches[0].Records[1].Tombstoned)
	assert.Equal(t, "erasure", batches[0].Records[1].Action)
}

func TestAgent_EraseNoMatchIsNoop(t *testing.T) {
	a := sealedAgent(t, 3)
	before := a.Batches()[0].Tag

	record, err := a.EraseSubject("nobody", func(domain.AuditRecord) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "noop", record.Outcome)
	assert.Equal(t, before, a.Batches()[0].Tag)
}
