package costopt

import (
	"context"
	"fmt"

	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
)

// checkpointCommand and restoreCommand are the control-channel commands
// every Adapter's Execute is expected to understand, the same convention
// the Executor uses for prescale_memory/reduce_batch_size control actions:
// there is no bespoke checkpoint RPC on the Adapter interface, so the
// cooperative contract rides on Execute instead.
const (
	checkpointCommandPrefix = "control:checkpoint "
	restoreCommandPrefix    = "control:restore "
)

// AdapterCheckpointer implements Checkpointer over the uniform Adapter
// surface: Checkpoint runs a control command on the job's current
// instance and reads back the artifact reference from stdout; Restore
// runs the matching control command on the newly-provisioned instance.
type AdapterCheckpointer struct {
	OldAdapter provider.Adapter
}

// NewAdapterCheckpointer builds a Checkpointer bound to oldAdapter, the
// provider a job is currently running on.
func NewAdapterCheckpointer(oldAdapter provider.Adapter) *AdapterCheckpointer {
	return &AdapterCheckpointer{OldAdapter: oldAdapter}
}

// Checkpoint runs against job's current instance via the old adapter and
// returns the first line of output as the checkpoint artifact reference.
func (c *AdapterCheckpointer) Checkpoint(ctx context.Context, job RunningJob) (string, error) {
	handle, err := c.OldAdapter.Execute(ctx, job.Instance, checkpointCommandPrefix+job.JobID, nil)
	if err != nil {
		return "", fmt.Errorf("costopt: checkpoint: %w", err)
	}
	return awaitArtifact(handle)
}

// Restore runs against the new instance via its own adapter, known only
// once migration selects a candidate.
func (c *AdapterCheckpointer) Restore(ctx context.Context, adapter provider.Adapter, artifact string, inst domain.Instance) error {
	handle, err := adapter.Execute(ctx, inst, restoreCommandPrefix+artifact, nil)
	if err != nil {
		return fmt.Errorf("costopt: restore: %w", err)
	}
	<-handle.Done()
	exitStatus, _ := handle.ExitStatus()
	if exitStatus != "0" {
		return fmt.Errorf("costopt: restore: exit status %s", exitStatus)
	}
	return nil
}

// awaitArtifact drains handle's first output line as the artifact
// reference, then waits for completion and surfaces a non-zero exit as
// an error.
func awaitArtifact(handle provider.CommandHandle) (string, error) {
	var artifact string
	for line := range handle.Lines() {
		if artifact == "" {
			artifact = line
		}
	}
	<-handle.Done()
	exitStatus, _ := handle.ExitStatus()
	if exitStatus != "0" {
		return "", fmt.Errorf("costopt: checkpoint: exit status %s", exitStatus)
	}
	if artifact == "" {
		return "", fmt.Errorf("costopt: checkpoint: no artifact reference returned")
	}
	return artifact, nil
}
