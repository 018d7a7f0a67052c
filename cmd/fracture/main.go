// Command fracture is the CLI entry point: run a collection, validate it
// without executing, or scaffold a new .fracture project folder. Structured
// the way the teacher's cmd/falcon/main.go wires cobra + viper, minus the
// TUI/web/LLM-wizard surface that has no place in a task-graph execution
// engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	fconfig "github.com/fracture-labs/fracture/internal/config"
	"github.com/fracture-labs/fracture/internal/engine"
	"github.com/fracture-labs/fracture/internal/ingest"
	"github.com/fracture-labs/fracture/internal/plugins/authplugins"
	"github.com/fracture-labs/fracture/internal/plugins/filevault"
	"github.com/fracture-labs/fracture/internal/plugins/httpproto"
	"github.com/fracture-labs/fracture/internal/report"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile   string
	envName   string
	dataPath  string
	bailFlag  bool
	strictOff bool
)

var rootCmd = &cobra.Command{
	Use:   "fracture",
	Short: "Fracture executes API collections as a task-graph run",
	Long: `Fracture builds a dependency-aware task graph out of a collection of
folders and requests, runs each node's scripts under a deterministic
single-writer execution context, and reports the result.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .fracture/config.yaml)")
	rootCmd.AddCommand(runCmd(), validateCmd(), initCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <collection-file>",
		Short: "Execute a collection and print a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(args[0], false)
		},
	}
	cmd.Flags().StringVarP(&envName, "env", "e", "dev", "environment to use for variable substitution")
	cmd.Flags().StringVar(&dataPath, "data", "", "JSON/YAML file of iteration rows (data-driven run)")
	cmd.Flags().BoolVar(&bailFlag, "bail", false, "stop the run at the first failing test")
	cmd.Flags().BoolVar(&strictOff, "no-strict", false, "disable strict-mode script validation")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <collection-file>",
		Short: "Validate a collection without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(args[0], true)
		},
	}
	cmd.Flags().BoolVar(&strictOff, "no-strict", false, "disable strict-mode script validation")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold a .fracture project folder in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fconfig.Init("."); err != nil {
				return err
			}
			fmt.Println("Initialized .fracture folder")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fracture %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

// execute loads config+collection, builds the plugin registry, and runs
// (or only validates) the collection, printing a glamour-rendered report.
func execute(path string, validateOnly bool) error {
	_, cfg, err := fconfig.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if strictOff {
		f := false
		cfg.StrictMode = &f
	}
	if bailFlag {
		cfg.Bail = true
	}

	envVars, err := fconfig.LoadEnvironment(".", envName)
	if err != nil {
		envVars = nil // no environment file is not fatal; variables simply won't resolve
	}

	var data []map[string]any
	if dataPath != "" {
		raw, err := os.ReadFile(dataPath)
		if err != nil {
			return fmt.Errorf("reading data file: %w", err)
		}
		data, err = ingest.LoadIterationData(raw)
		if err != nil {
			return fmt.Errorf("parsing data file: %w", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading collection: %w", err)
	}
	coll, err := ingest.LoadCollection(path, raw)
	if err != nil {
		return fmt.Errorf("parsing collection: %w", err)
	}

	opts := cfg.ToRuntimeOptions(nil, envVars, data)

	proto := httpproto.New(float64(cfg.RateLimit))
	auths := map[string]engine.AuthPlugin{
		"bearer": authplugins.Bearer{},
		"basic":  authplugins.Basic{},
		"oauth2": authplugins.NewOAuth2(),
	}
	providers := map[string]engine.ValueProvider{"file-vault": filevault.New()}

	if validateOnly {
		v := engine.NewCollectionValidator(proto, auths)
		errs := v.Validate(coll, opts)
		if len(errs) == 0 {
			fmt.Println("collection is valid")
			return nil
		}
		for _, e := range errs {
			fmt.Printf("[%s] %s\n", e.Source, e.Message)
		}
		return fmt.Errorf("%d validation error(s)", len(errs))
	}

	sched := engine.NewScheduler(proto, auths, nil, nil).WithValueProviders(providers)
	result, err := sched.Run(coll, opts)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	fmt.Print(report.Render(result))
	if result.FailedTests > 0 || result.Aborted {
		os.Exit(1)
	}
	return nil
}
