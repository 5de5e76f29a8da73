package httpadapter

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// streamHandle polls the provider's command-output endpoint rather than
// holding a live connection open, since the REST shape here has no
// server-sent-events equivalent. Good enough for a command whose output
// volume is modest; a provider with genuine streaming gets its own
// CommandHandle implementation.
type streamHandle struct {
	adapter   *Adapter
	instance  string
	commandID string

	lines chan string
	done  chan struct{}

	mu         sync.Mutex
	exitStatus string
	exited     bool

	cancelOnce sync.Once
	cancelFn   context.CancelFunc
}

func newStreamHandle(a *Adapter, instanceID, commandID string) *streamHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &streamHandle{
		adapter:   a,
		instance:  instanceID,
		commandID: commandID,
		lines:     make(chan string, 64),
		done:      make(chan struct{}),
		cancelFn:  cancel,
	}
	go h.poll(ctx)
	return h
}

type pollResponse struct {
	NewLines   []string `json:"new_lines"`
	Exited     bool     `json:"exited"`
	ExitStatus string   `json:"exit_status"`
}

func (h *streamHandle) poll(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	defer close(h.lines)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var resp pollResponse
		path := "/v1/instances/" + h.instance + "/exec/" + h.commandID
		_, err := h.adapter.DoJSON(ctx, http.MethodGet, path, nil, &resp)
		if err != nil {
			continue // transient poll failure, try again next tick
		}
		for _, line := range resp.NewLines {
			select {
			case h.lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if resp.Exited {
			h.mu.Lock()
			h.exited = true
			h.exitStatus = resp.ExitStatus
			h.mu.Unlock()
			return
		}
	}
}

func (h *streamHandle) Lines() <-chan string  { return h.lines }
func (h *streamHandle) Done() <-chan struct{} { return h.done }

func (h *streamHandle) ExitStatus() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitStatus, h.exited
}

func (h *streamHandle) Cancel() {
	h.cancelOnce.Do(h.cancelFn)
}
