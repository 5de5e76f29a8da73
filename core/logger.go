package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ProductionLogger is the concrete Logger used outside of tests. It detects
// whether it's running inside Kubernetes (KUBERNETES_SERVICE_HOST is set)
// and switches between single-line JSON (for log aggregators) and a
// human-readable text format (for local development).
//
// Error-level logs are rate limited per (component, message) pair so a
// tight retry loop (e.g. a provider stuck returning ErrTransient) can't
// flood stdout.
type ProductionLogger struct {
	component   string
	development bool
	baseFields  map[string]interface{}

	mu           sync.Mutex
	errorWindows map[string]time.Time

	metricsRegistry MetricsRegistry
}

const errorLogSuppressWindow = time.Second

// NewProductionLogger builds the root logger. development forces the
// text format regardless of environment; when false, Kubernetes detection
// decides the format.
func NewProductionLogger(component string, development bool) *ProductionLogger {
	inK8s := os.Getenv("KUBERNETES_SERVICE_HOST") != ""
	return &ProductionLogger{
		component:    component,
		development:  development || !inK8s,
		errorWindows: make(map[string]time.Time),
	}
}

// EnableMetrics wires a MetricsRegistry so every Error() call also
// increments a "log_errors_total" counter, labeled by component.
func (l *ProductionLogger) EnableMetrics(registry MetricsRegistry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metricsRegistry = registry
}

func (l *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(l.baseFields)+len(fields)+3)
	for k, v := range l.baseFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	merged["level"] = level
	merged["component"] = l.component
	merged["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	merged["msg"] = msg

	if l.development {
		fmt.Fprintf(os.Stdout, "[%s] %-5s %-20s %s %v\n", merged["ts"], level, l.component, msg, fields)
		return
	}
	enc, err := json.Marshal(merged)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: marshal failed: %v\n", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(enc))
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.logEvent("info", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.logEvent("warn", msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.development {
		return
	}
	l.logEvent("debug", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	key := l.component + "|" + msg
	l.mu.Lock()
	last, seen := l.errorWindows[key]
	now := time.Now()
	suppressed := seen && now.Sub(last) < errorLogSuppressWindow
	if !suppressed {
		l.errorWindows[key] = now
	}
	registry := l.metricsRegistry
	l.mu.Unlock()

	if suppressed {
		return
	}
	l.logEvent("error", msg, fields)
	if registry != nil {
		registry.Counter("log_errors_total", "component", l.component)
	}
}

// WithComponent returns a child logger tagged with a different component
// name, sharing the same format/metrics settings.
func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		component:       component,
		development:     l.development,
		baseFields:      l.baseFields,
		errorWindows:    make(map[string]time.Time),
		metricsRegistry: l.metricsRegistry,
	}
}

// WithFields returns a child logger that always includes the given fields.
func (l *ProductionLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.baseFields)+len(fields))
	for k, v := range l.baseFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ProductionLogger{
		component:       l.component,
		development:     l.development,
		baseFields:      merged,
		errorWindows:    make(map[string]time.Time),
		metricsRegistry: l.metricsRegistry,
	}
}
