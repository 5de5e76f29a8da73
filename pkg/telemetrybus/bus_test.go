package telemetrybus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

type fakeAudit struct {
	records []domain.AuditRecord
}

func (f *fakeAudit) Append(r domain.AuditRecord) error {
	f.records = append(f.records, r)
	return nil
}

func sampleAt(instanceID string, t time.Time) domain.TelemetrySample {
	return domain.TelemetrySample{InstanceID: instanceID, Timestamp: t, GPUUtilizationPct: 50}
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	audit := &fakeAudit{}
	bus := New(NewMemStore(), audit, core.NoOpLogger{})
	ch := bus.Subscribe("inst-1")

	now := time.Unix(1000, 0)
	require.NoError(t, bus.Publish(context.Background(), sampleAt("inst-1", now)))

	select {
	case s := <-ch:
		assert.Equal(t, "inst-1", s.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}
}

func TestBus_StoreHoldsBoundedWindow(t *testing.T) {
	bus := New(NewMemStore(), nil, core.NoOpLogger{})
	base := time.Unix(0, 0)
	for i := 0; i < WindowSize+10; i++ {
		require.NoError(t, bus.Publish(context.Background(), sampleAt("inst-1", base.Add(time.Duration(i)*time.Second))))
	}

	recent, err := bus.Recent(context.Background(), "inst-1", 0)
	require.NoError(t, err)
	assert.Len(t, recent, WindowSize)
	assert.Equal(t, base.Add(time.Duration(WindowSize+9)*time.Second), recent[len(recent)-1].Timestamp)
}

func TestBus_SlowSubscriberDropsOldestAndAudits(t *testing.T) {
	audit := &fakeAudit{}
	bus := New(NewMemStore(), audit, core.NoOpLogger{})
	ch := bus.Subscribe("inst-1")

	base := time.Unix(0, 0)
	for i := 0; i < WindowSize+5; i++ {
		require.NoError(t, bus.Publish(context.Background(), sampleAt("inst-1", base.Add(time.Duration(i)*time.Second))))
	}

	assert.Len(t, ch, WindowSize)
	assert.NotEmpty(t, audit.records)
	last := audit.records[len(audit.records)-1]
	assert.Equal(t, "telemetry_drop", last.Action)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := New(NewMemStore(), nil, core.NoOpLogger{})
	ch := bus.Subscribe("inst-1")
	bus.Unsubscribe("inst-1", ch)

	_, open := <-ch
	assert.False(t, open)
}
