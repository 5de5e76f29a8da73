package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/reasoning"
)

// Engine implements reasoning.Engine against the Anthropic Messages API.
// Every prompt asks the model to answer in a fixed JSON shape, which this
// client parses itself rather than delegating to a tool-use round trip.
type Engine struct {
	client *baseClient
	logger core.Logger
}

// New builds a claude.Engine. apiKey is required; baseURL defaults to
// the production Anthropic endpoint when empty.
func New(apiKey, baseURL string, logger core.Logger) *Engine {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Engine{client: newBaseClient(apiKey, baseURL, logger), logger: logger}
}

func (e *Engine) call(ctx context.Context, system, userPrompt string) (string, error) {
	if e.client.apiKey == "" {
		return "", fmt.Errorf("claude: API key not configured")
	}
	reqBody := messagesRequest{
		Model:     defaultModel,
		Messages:  []message{{Role: "user", Content: userPrompt}},
		MaxTokens: defaultMaxTokens,
		System:    system,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("claude: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.client.baseURL+"/messages", bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("claude: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.client.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := e.client.executeWithRetry(ctx, req)
	if err != nil {
		return "", fmt.Errorf("claude: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("claude: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", e.client.handleError(resp.StatusCode, body)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("claude: parse response: %w", err)
	}
	var text string
	for _, item := range parsed.Content {
		if item.Type == "text" {
			text += item.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("claude: empty response content")
	}
	return text, nil
}

const planSystemPrompt = `You decompose a GPU workload goal into a task DAG. Respond with
JSON only: {"tasks":[{"image":"...","gpu_class":"...","gpu_count":1,"vram_gib":0,
"predecessors":[0,1],"confidence":0.0}]}. predecessors are zero-based indices into
this same tasks array, referring only to earlier entries.`

type planTask struct {
	Image        string  `json:"image"`
	GPUClass     string  `json:"gpu_class"`
	GPUCount     int     `json:"gpu_count"`
	VRAMGiB      float64 `json:"vram_gib"`
	Predecessors []int   `json:"predecessors"`
	Confidence   float64 `json:"confidence"`
}

type planResponse struct {
	Tasks []planTask `json:"tasks"`
}

// Plan asks the model to decompose goalText into a task DAG, honoring
// constraints.MaxRiskTier as the risk tier applied uniformly to every
// produced task (the model is not trusted to self-assign risk tiers).
func (e *Engine) Plan(ctx context.Context, goalText string, constraints reasoning.PlanConstraints) (*domain.TaskArena, error) {
	text, err := e.call(ctx, planSystemPrompt, goalText)
	if err != nil {
		return nil, err
	}
	var parsed planResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("claude: plan response not valid JSON: %w", err)
	}
	risk := constraints.MaxRiskTier
	if risk == "" {
		risk = domain.RiskNormal
	}
	arena := domain.NewTaskArena()
	for _, t := range parsed.Tasks {
		preds := make([]domain.TaskHandle, len(t.Predecessors))
		for i, p := range t.Predecessors {
			preds[i] = domain.TaskHandle(p)
		}
		demand := domain.ResourceDemand{GPUClass: t.GPUClass, GPUCount: t.GPUCount, VRAMGiB: t.VRAMGiB}
		if _, err := arena.AddTask("", t.Image, demand, preds, t.Confidence, risk); err != nil {
			return nil, fmt.Errorf("claude: plan produced invalid DAG: %w", err)
		}
	}
	return arena, nil
}

const diagnoseSystemPrompt = `You diagnose a GPU instance from its recent telemetry window.
Respond with JSON only: {"action":"prescale_memory|reduce_batch_size|restart|
migrate_larger_gpu|terminate|none","confidence":0.0,"reasoning":"..."}.`

// Diagnose asks the model to interpret a metrics window and recommend a
// healing action with a confidence the caller must still pass through
// the Healing Agent's hard gates (pkg/healing) before acting on it.
func (e *Engine) Diagnose(ctx context.Context, instanceContext map[string]interface{}, metricsWindow []domain.TelemetrySample) (reasoning.Diagnosis, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"instance_context": instanceContext,
		"metrics_window":   metricsWindow,
	})
	if err != nil {
		return reasoning.Diagnosis{}, fmt.Errorf("claude: marshal diagnose input: %w", err)
	}
	text, err := e.call(ctx, diagnoseSystemPrompt, string(payload))
	if err != nil {
		return reasoning.Diagnosis{}, err
	}
	var d reasoning.Diagnosis
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return reasoning.Diagnosis{}, fmt.Errorf("claude: diagnose response not valid JSON: %w", err)
	}
	return d, nil
}

const repairSystemPrompt = `You recommend a repair action for a failed GPU task.
Respond with JSON only: {"action":"retry|modify|abandon","rationale":"..."}.`

// Repair asks the model for a recommendation on a failed task given its
// failure context.
func (e *Engine) Repair(ctx context.Context, task domain.Task, failureContext map[string]interface{}) (reasoning.Repair, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"task":             task,
		"failure_context":  failureContext,
	})
	if err != nil {
		return reasoning.Repair{}, fmt.Errorf("claude: marshal repair input: %w", err)
	}
	text, err := e.call(ctx, repairSystemPrompt, string(payload))
	if err != nil {
		return reasoning.Repair{}, err
	}
	var r reasoning.Repair
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return reasoning.Repair{}, fmt.Errorf("claude: repair response not valid JSON: %w", err)
	}
	return r, nil
}
