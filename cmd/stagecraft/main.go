// Package main is the entry point for the stagecraft binary. It provides a
// CLI for validating, planning, and previewing pipeline definitions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stagecraftai/stagecraft-oss/pkg/config"
	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine"
	"github.com/stagecraftai/stagecraft-oss/pkg/graph"
	"github.com/stagecraftai/stagecraft-oss/pkg/logging"
	"github.com/stagecraftai/stagecraft-oss/pkg/prompting"
	"github.com/stagecraftai/stagecraft-oss/pkg/telemetry"
)

const defaultLogLevel = "info"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for stagecraft.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagecraft",
		Short: "Pipeline authoring and execution engine",
		Long: `Stagecraft validates, plans, and previews analysis pipelines.

A pipeline definition (JSON or YAML) describes a directed graph of nodes:
AI prompts, list parsers, batch loops, aggregates, templates, and human
checkpoints. Stagecraft linearizes the graph into a deterministic order,
groups it into wizard stages, and can execute it end to end.

Example:
  stagecraft plan pipeline.yaml
  stagecraft run pipeline.yaml --var topic="gothic fiction"`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newRunCmd())

	return rootCmd
}

func setupLogging(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logging.SetupLogger(logging.Config{
		Level:  level,
		Pretty: true,
		Output: os.Stderr,
	})
}

// loadPipeline reads and validates a pipeline definition file.
func loadPipeline(path string) (domain.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("read %s: %w", path, err)
	}
	payload, err := config.DecodeFileData(path, data)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return config.ToPipeline(payload)
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline-file>",
		Short: "Check a pipeline definition for structural errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)

			pipeline, err := loadPipeline(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s: valid (%d nodes, %d edges)\n", args[0], len(pipeline.Nodes), len(pipeline.Edges))
			return nil
		},
	}
}

func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan <pipeline-file>",
		Short: "Show the execution order and wizard stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(cmd)
			watch, _ := cmd.Flags().GetBool("watch")

			pipeline, err := loadPipeline(args[0])
			if err != nil {
				return err
			}
			if err := printPlan(pipeline); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchPlan(cmd.Context(), args[0], logger)
		},
	}
	planCmd.Flags().BoolP("watch", "w", false, "Re-plan whenever the file changes")
	return planCmd
}

func printPlan(pipeline domain.Pipeline) error {
	order, err := graph.Resolve(pipeline)
	if err != nil {
		return err
	}
	stages := graph.GroupStages(order)

	fmt.Printf("Pipeline %q: %d nodes in %d stages\n", pipeline.Name, len(order), len(stages))
	for i, stage := range stages {
		label := stage.Label
		if label == "" {
			label = string(stage.Type)
		}
		fmt.Printf("  Stage %d: %s\n", i+1, label)
		for _, node := range stage.Nodes {
			marker := " "
			if node.Type.Interactive() {
				marker = "*"
			}
			fmt.Printf("    %s %-14s %s\n", marker, node.Type, node.ID)
		}
	}
	return nil
}

// watchPlan re-resolves and re-prints the plan on every file change until
// interrupted.
func watchPlan(ctx context.Context, path string, logger *slog.Logger) error {
	provider, err := config.NewFileProvider(path, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	updates := provider.Subscribe()
	fmt.Println("watching for changes (ctrl-c to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case pipeline := <-updates:
			fmt.Println("---")
			if err := printPlan(pipeline); err != nil {
				fmt.Fprintf(os.Stderr, "plan failed: %v\n", err)
			}
		}
	}
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <pipeline-file>",
		Short: "Execute a pipeline, pausing at checkpoints",
		Long: `Execute a pipeline end to end. Without --ai-endpoint, ai_prompt nodes
are served by a deterministic dry-run provider. Checkpoints prompt on
stdin unless --auto-approve confirms every surfaced value unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: runPipeline,
	}

	runCmd.Flags().StringArray("var", nil, "Template variable as key=value (repeatable)")
	runCmd.Flags().String("ai-endpoint", "", "Prompting service base URL (default: local dry-run)")
	runCmd.Flags().String("ai-token", "", "Prompting service API key")
	runCmd.Flags().Bool("auto-approve", false, "Confirm every checkpoint without prompting")
	runCmd.Flags().Int("chunk-workers", engine.DefaultChunkWorkers, "Concurrent batch chunk executions")
	runCmd.Flags().String("otlp-endpoint", "", "OTLP gRPC endpoint for trace export")

	return runCmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	logger := setupLogging(cmd)

	vars, err := parseVars(cmd)
	if err != nil {
		return err
	}

	pipeline, err := loadPipeline(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint, _ := cmd.Flags().GetString("otlp-endpoint"); endpoint != "" {
		shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
			ServiceName: "stagecraft",
			Endpoint:    endpoint,
		})
		if err != nil {
			return fmt.Errorf("telemetry setup: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	var client prompting.Client
	if endpoint, _ := cmd.Flags().GetString("ai-endpoint"); endpoint != "" {
		token, _ := cmd.Flags().GetString("ai-token")
		client = prompting.NewHTTPClient(prompting.HTTPClientConfig{
			BaseURL: endpoint,
			APIKey:  token,
			Logger:  logger,
		})
	} else {
		client = prompting.NewLocalClient()
		logger.Info("no prompting endpoint configured, using local dry-run provider")
	}

	workers, _ := cmd.Flags().GetInt("chunk-workers")
	exec := engine.NewStageExecutor(engine.Config{
		Prompt:       client,
		Logger:       logger,
		ChunkWorkers: workers,
	})

	run, err := exec.Start(ctx, pipeline, vars)
	if err != nil {
		return err
	}

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	reader := bufio.NewReader(os.Stdin)
	for run.Pending != nil {
		value, err := resolveCheckpoint(run.Pending, autoApprove, reader)
		if err != nil {
			return err
		}
		if err := exec.Resume(ctx, run, value); err != nil {
			return err
		}
	}

	fmt.Printf("Run complete: %d nodes executed\n", len(run.Order))
	for _, node := range run.Order {
		if output, ok := run.State.Outputs[node.ID]; ok {
			fmt.Printf("  %s = %s\n", node.ID, formatOutput(output))
		}
	}
	return nil
}

// resolveCheckpoint surfaces a pending checkpoint and collects the user's
// answer. An empty answer confirms the surfaced value unchanged.
func resolveCheckpoint(cp *engine.Checkpoint, autoApprove bool, reader *bufio.Reader) (any, error) {
	label := cp.Label
	if label == "" {
		label = cp.NodeID
	}
	fmt.Printf("Checkpoint [%s] %s (stage %d)\n", cp.NodeType, label, cp.StageIndex+1)
	if cp.Value != nil {
		fmt.Printf("  %s\n", formatOutput(cp.Value))
	}
	if autoApprove {
		fmt.Println("  auto-approved")
		return nil, nil
	}

	fmt.Print("> ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read checkpoint input: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, nil
	}
	if cp.NodeType == domain.NodeUserEditList {
		return strings.Split(line, ","), nil
	}
	return line, nil
}

func parseVars(cmd *cobra.Command) (map[string]string, error) {
	pairs, _ := cmd.Flags().GetStringArray("var")
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

func formatOutput(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return "[" + strings.Join(t, ", ") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
