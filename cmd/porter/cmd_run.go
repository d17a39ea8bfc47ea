package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"porter/internal/orchestrator"
	"porter/internal/reqctx"
)

var (
	runInputs     []string
	runInputsFile string
	runSnapshot   string
	runLedger     string
	runAsOf       string
	runCaller     string
	runGrants     []string
	runDeadline   time.Duration
	runCount      int
)

var runCmd = &cobra.Command{
	Use:   "run <pattern-id>",
	Short: "Execute a pattern and print the result envelope",
	Long: `Execute a pattern by id (or id@version) with the given inputs.

Inputs are typed YAML scalars: --input x=5 binds an int, --input name=alice
a string. With --count > 1 the same execution is driven concurrently, each
run owning an isolated execution state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, store, err := buildEngine()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if cfg.Patterns.Watch {
			if err := store.Watch(ctx); err != nil {
				return err
			}
			defer store.Stop()
		}

		inputs, err := collectInputs()
		if err != nil {
			return err
		}

		rc, err := buildRequestCtx()
		if err != nil {
			return err
		}

		if runCount <= 1 {
			return runOnce(ctx, engine, args[0], inputs, rc)
		}
		return runMany(ctx, engine, args[0], inputs, rc)
	},
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "input as name=value (repeatable)")
	runCmd.Flags().StringVar(&runInputsFile, "inputs-file", "", "YAML file of inputs")
	runCmd.Flags().StringVar(&runSnapshot, "snapshot", "", "data-pack snapshot id")
	runCmd.Flags().StringVar(&runLedger, "ledger", "", "ledger commit hash")
	runCmd.Flags().StringVar(&runAsOf, "as-of", "", "as-of date (RFC3339), defaults to now")
	runCmd.Flags().StringVar(&runCaller, "caller", "", "caller identity")
	runCmd.Flags().StringArrayVar(&runGrants, "grant", nil, "caller permission grant (repeatable)")
	runCmd.Flags().DurationVar(&runDeadline, "deadline", 0, "overall execution deadline")
	runCmd.Flags().IntVar(&runCount, "count", 1, "number of concurrent executions")
}

func collectInputs() (map[string]any, error) {
	inputs := make(map[string]any)

	if runInputsFile != "" {
		data, err := os.ReadFile(runInputsFile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse inputs file: %w", err)
		}
	}

	for _, kv := range runInputs {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("bad --input %q, want name=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		inputs[name] = v
	}
	return inputs, nil
}

func buildRequestCtx() (*reqctx.Ctx, error) {
	asOf := time.Now()
	if runAsOf != "" {
		t, err := time.Parse(time.RFC3339, runAsOf)
		if err != nil {
			return nil, fmt.Errorf("bad --as-of: %w", err)
		}
		asOf = t
	}
	rc := reqctx.New(runSnapshot, runLedger, asOf)
	if runCaller != "" {
		rc = rc.WithCaller(runCaller, runGrants...)
	}
	if runDeadline > 0 {
		rc = rc.WithDeadline(time.Now().Add(runDeadline))
	}
	return rc, nil
}

func runOnce(ctx context.Context, engine *orchestrator.Engine, id string, inputs map[string]any, rc *reqctx.Ctx) error {
	res, err := engine.Execute(ctx, id, inputs, rc)
	if res != nil {
		printResult(res)
	}
	return err
}

// runMany drives --count concurrent executions of the same pattern. Each
// gets its own RequestCtx (fresh trace id) but the same snapshot pin, so the
// runs are independent and reproducible.
func runMany(ctx context.Context, engine *orchestrator.Engine, id string, inputs map[string]any, rc *reqctx.Ctx) error {
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Engine.MaxConcurrent > 0 {
		g.SetLimit(cfg.Engine.MaxConcurrent)
	}

	results := make([]*orchestrator.Result, runCount)
	for i := 0; i < runCount; i++ {
		i := i
		g.Go(func() error {
			crc := reqctx.New(rc.SnapshotID, rc.LedgerHash, rc.AsOf)
			if rc.Caller != "" {
				crc = crc.WithCaller(rc.Caller, rc.Grants...)
			}
			if !rc.Deadline.IsZero() {
				crc = crc.WithDeadline(rc.Deadline)
			}
			res, err := engine.Execute(gctx, id, inputs, crc)
			results[i] = res
			return err
		})
	}
	err := g.Wait()

	ok := 0
	for _, r := range results {
		if r != nil && r.Status == orchestrator.StatusSucceeded {
			ok++
		}
	}
	logger.Info("parallel run finished",
		zap.Int("count", runCount),
		zap.Int("succeeded", ok))
	if err != nil {
		return err
	}
	printResult(results[0])
	return nil
}

func printResult(res *orchestrator.Result) {
	out, err := yaml.Marshal(res)
	if err != nil {
		fmt.Printf("%+v\n", res)
		return
	}
	fmt.Print(string(out))
}
