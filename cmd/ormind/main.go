// Command ormind boots one instance of the control plane: it wires the
// Provider Router, Scheduler, Cost Optimizer, Healing Agent, Audit
// Agent, Safety Governor, Reasoning Engine, and per-Goal Orchestrators
// together, then accepts Goals over a small HTTP surface until the
// process is asked to shut down.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/audit"
	"github.com/ormind-ai/ormind/pkg/costopt"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/healing"
	"github.com/ormind-ai/ormind/pkg/obs"
	"github.com/ormind-ai/ormind/pkg/orchestrator"
	"github.com/ormind-ai/ormind/pkg/planfile"
	"github.com/ormind-ai/ormind/pkg/provider/httpadapter"
	"github.com/ormind-ai/ormind/pkg/provider/simadapter"
	"github.com/ormind-ai/ormind/pkg/reasoning"
	"github.com/ormind-ai/ormind/pkg/reasoning/claude"
	"github.com/ormind-ai/ormind/pkg/reasoning/scripted"
	"github.com/ormind-ai/ormind/pkg/repository"
	"github.com/ormind-ai/ormind/pkg/repository/memstore"
	"github.com/ormind-ai/ormind/pkg/router"
	"github.com/ormind-ai/ormind/pkg/safety"
	"github.com/ormind-ai/ormind/pkg/scheduler"
	"github.com/ormind-ai/ormind/pkg/telemetrybus"
)

func main() {
	hmacSecret := flag.String("audit-hmac-secret", os.Getenv(core.EnvAuditHMACSecret), "HMAC secret chaining the audit log")
	dailyCap := flag.Float64("daily-cap-usd", 500, "Safety Governor daily spend cap")
	perActionCap := flag.Float64("per-action-cap-usd", 50, "Safety Governor per-action spend cap")
	flag.Parse()

	opts := []core.Option{
		core.WithAudit(50, 30*time.Second, []byte(*hmacSecret)),
		core.WithGovernorCaps(*dailyCap, *perActionCap),
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ormind: config:", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	metrics := obs.New()
	metrics.Install()
	tracer := obs.NewTracer("ormind")

	app, err := build(cfg, logger, tracer)
	if err != nil {
		logger.Error("ormind: build failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	go app.auditAgent.Run(ctx)
	go app.executor.Run(ctx.Done())
	go app.cost.Run(ctx, app.pollTargets())
	go runReconcileSweeps(ctx, app.reconciler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/goals", app.handleCreateGoal)
	mux.HandleFunc("/goals/plan-file", app.handleCreateGoalFromPlanFile)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ormind: listening", map[string]interface{}{"port": cfg.Port})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ormind: server exited", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// app holds every long-lived component built at startup.
type app struct {
	cfg    *core.Config
	logger core.Logger

	auditAgent *audit.Agent
	governor   *safety.Governor
	engine     reasoning.Engine
	rtr        *router.Router
	reconciler *router.Reconciler
	sched      *scheduler.Scheduler
	cost       *costopt.Optimizer
	healer     *healing.Agent
	bus        *telemetrybus.Bus

	lookup   *memstore.TaskLookupAdapter
	goalRepo repository.Goals

	registry *orchestrator.Registry
	executor *orchestrator.Executor

	pollTargetList []costopt.PollTarget
}

func (a *app) pollTargets() []costopt.PollTarget { return a.pollTargetList }

func build(cfg *core.Config, logger core.Logger, tel core.Telemetry) (*app, error) {
	auditAgent := audit.New(cfg.Audit, logger)
	governor := safety.New(cfg.Governor, logger)

	var engine reasoning.Engine = scripted.New()
	if apiKey := os.Getenv(core.EnvAnthropicAPIKey); apiKey != "" {
		engine = claude.New(apiKey, "", logger)
	}
	engine = reasoning.Wrap(engine, auditAgent)

	reconciler := router.NewReconciler(logger)
	rtr := router.New(logger, cfg.CostOptimizer.ReliabilityWeight, router.DefaultFailoverFanout, reconciler)
	simA100 := simadapter.New("sim-a100", 2.50, "us-east-1", "a100")
	onprem := httpadapter.New("onprem-cluster", "http://localhost:9090", os.Getenv("ORMIND_ONPREM_TOKEN"), cfg.CircuitBreaker, 2*time.Second, logger)
	rtr.Register(simA100, "us-east-1", "a100")
	rtr.Register(onprem, "us-east-1", "a100")
	pollTargets := []costopt.PollTarget{
		{Adapter: simA100, Region: "us-east-1", GPUClass: "a100"},
		{Adapter: onprem, Region: "us-east-1", GPUClass: "a100"},
	}

	sched := scheduler.New(cfg.Scheduler, logger)

	jobs := costopt.NewJobRegistry()
	priceStore := costopt.NewPriceStore()
	cost := costopt.New(cfg.CostOptimizer, rtr, priceStore, auditAgent, logger, jobs, reconciler)

	healer := healing.New(cfg.Healing, logger)

	store, err := telemetryStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	bus := telemetrybus.New(store, auditAgent, logger)

	tasks := memstore.NewTasks()
	lookup := memstore.NewTaskLookup(tasks)
	goalRepo := memstore.NewGoals()

	registry := orchestrator.NewRegistry()
	executor := orchestrator.NewExecutor(sched, rtr, lookup, registry, auditAgent, bus, healer, engine, governor, jobs, reconciler, tel, logger)

	return &app{
		cfg: cfg, logger: logger,
		auditAgent: auditAgent, governor: governor, engine: engine,
		rtr: rtr, sched: sched, cost: cost, healer: healer, bus: bus,
		lookup: lookup, goalRepo: goalRepo,
		registry: registry, executor: executor, reconciler: reconciler,
		pollTargetList: pollTargets,
	}, nil
}

// reconcileSweepInterval is how often the Router's Reconciler checks for
// possibly-leaked instances whose ReconcileWindow has elapsed. It runs
// more often than the window itself so a leak is swept promptly once due,
// not merely within it.
const reconcileSweepInterval = 15 * time.Second

// runReconcileSweeps ticks the Reconciler until ctx is cancelled.
func runReconcileSweeps(ctx context.Context, reconciler *router.Reconciler) {
	ticker := time.NewTicker(reconcileSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconciler.Sweep(ctx)
		}
	}
}

// telemetryStore picks the Redis-backed Store when RedisURL is
// configured, the in-memory one otherwise.
func telemetryStore(cfg *core.Config, logger core.Logger) (telemetrybus.Store, error) {
	if cfg.RedisURL == "" {
		return telemetrybus.NewMemStore(), nil
	}
	return telemetrybus.NewRedisStore(cfg.RedisURL, logger)
}

type createGoalRequest struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Owner         string   `json:"owner"`
	BudgetCeiling *float64 `json:"budget_ceiling_usd"`
	Region        string   `json:"region"`
}

// handleCreateGoal accepts a Goal, plans it through the Reasoning
// Engine, and starts an Orchestrator goroutine for it.
func (a *app) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	goal := domain.NewGoal(req.ID, req.Text, req.Owner, req.BudgetCeiling, time.Now())
	if err := a.goalRepo.Create(r.Context(), goal); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	a.lookup.SetRegion(goal.ID, req.Region)

	completions := a.registry.Register(goal.ID, 64)
	o := orchestrator.New(goal, a.engine, a.governor, a.sched, a.auditAgent, completions, a.logger)

	go func() {
		ctx := context.Background()
		if err := o.Plan(ctx, reasoning.PlanConstraints{BudgetCeiling: req.BudgetCeiling, MaxRiskTier: domain.RiskElevated, Region: req.Region}); err != nil {
			a.logger.Error("ormind: planning failed", map[string]interface{}{"goal_id": goal.ID, "error": err.Error()})
			a.registry.Unregister(goal.ID)
			return
		}
		o.Run(ctx)
		a.registry.Unregister(goal.ID)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"goal_id": goal.ID, "status": string(goal.Status)})
}

type createGoalFromPlanFileRequest struct {
	ID            string   `json:"id"`
	Owner         string   `json:"owner"`
	BudgetCeiling *float64 `json:"budget_ceiling_usd"`
	Region        string   `json:"region"`
	PlanFilePath  string   `json:"plan_file_path"`
}

// handleCreateGoalFromPlanFile accepts a Goal backed by a YAML task-DAG
// file on disk instead of Reasoning Engine output, for operators who
// already know the exact plan a Goal should run.
func (a *app) handleCreateGoalFromPlanFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createGoalFromPlanFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	def, err := planfile.Load(req.PlanFilePath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	goal := domain.NewGoal(req.ID, def.Goal, req.Owner, req.BudgetCeiling, time.Now())
	arena, err := planfile.Build(def, goal.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.goalRepo.Create(r.Context(), goal); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	a.lookup.SetRegion(goal.ID, req.Region)

	completions := a.registry.Register(goal.ID, 64)
	o := orchestrator.New(goal, a.engine, a.governor, a.sched, a.auditAgent, completions, a.logger)
	o.AttachPlan(arena)

	go func() {
		o.Run(context.Background())
		a.registry.Unregister(goal.ID)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"goal_id": goal.ID, "status": string(goal.Status)})
}
