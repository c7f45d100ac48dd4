package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spinje/pflow/internal/config"
	"github.com/spinje/pflow/internal/nodes"
	"github.com/spinje/pflow/internal/registry"
	"github.com/spinje/pflow/internal/runtime"
	"github.com/spinje/pflow/internal/template"
)

func main() {
	if len(os.Args) > 2 && os.Args[1] == "run" {
		os.Exit(run(os.Args[2], os.Args[3:]))
	}
	fmt.Println("pflow v0.1.0")
	fmt.Println("Usage: pflow run <workflow-file> [--param key=value ...] [--permissive]")
}

func run(workflowFile string, args []string) int {
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	params := make(map[string]any)
	mode := template.Strict
	if cfg.TemplateMode == "permissive" {
		mode = template.Permissive
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--param":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--param requires key=value")
				return 1
			}
			i++
			key, value, ok := strings.Cut(args[i], "=")
			if !ok {
				fmt.Fprintf(os.Stderr, "invalid --param %q: expected key=value\n", args[i])
				return 1
			}
			params[key] = value
		case "--permissive":
			mode = template.Permissive
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %q\n", args[i])
			return 1
		}
	}

	wf, err := registry.LoadFile(workflowFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load workflow: %v\n", err)
		return 1
	}

	opts := []runtime.ExecutorOption{
		runtime.WithLogger(logger),
		runtime.WithWorkflowStore(registry.NewWorkflowStore(cfg.WorkflowsDir)),
		runtime.WithHistory(runtime.NewMemoryHistory()),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, runtime.WithMetrics(runtime.NewMetrics(prometheus.DefaultRegisterer)))
	}
	executor := runtime.NewExecutor(nodes.DefaultRegistry(), opts...)

	result := executor.Execute(context.Background(), wf, runtime.Options{
		Params:       params,
		Mode:         mode,
		WorkflowFile: workflowFile,
		Progress: func(nodeID string, event runtime.ProgressEvent, durationMS float64, depth int) {
			if nodeID == "" {
				return
			}
			logger.Info("progress",
				zap.String("node_id", nodeID),
				zap.String("event", string(event)),
				zap.Float64("duration_ms", durationMS),
				zap.Int("depth", depth))
		},
	})

	out, err := json.MarshalIndent(summarize(result), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))

	if !result.Success {
		return 1
	}
	return 0
}

// summarize strips non-serializable entries (the progress callback) from
// the result's shared state before printing.
func summarize(result *runtime.Result) map[string]any {
	shared := make(map[string]any, len(result.Shared))
	for k, v := range result.Shared {
		if k == "__progress_callback__" {
			continue
		}
		shared[k] = v
	}
	return map[string]any{
		"execution_id": result.ExecutionID,
		"success":      result.Success,
		"status":       result.Status,
		"errors":       result.Errors,
		"steps":        result.Steps,
		"outputs":      result.Outputs,
		"shared":       shared,
		"duration_ms":  result.Duration.Milliseconds(),
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
