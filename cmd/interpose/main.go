package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/glimte/interpose/config"
	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/metrics"
	"github.com/glimte/interpose/registry"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "interpose",
		Short: "Check and inspect interceptor policy files",
		Long: `interpose validates interceptor policy files and shows the chains
they produce once applied to a registry.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	logger := func() *slog.Logger {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	validateCmd := &cobra.Command{
		Use:   "validate <policy-file>",
		Short: "Check a policy file for errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s is valid: %d policies\n", args[0], len(cfg.Policies))
			return nil
		},
	}

	var redisAddr string
	describeCmd := &cobra.Command{
		Use:   "describe <policy-file>",
		Short: "Apply a policy file and print the resulting chains",
		Long: `Applies the policy file to an empty registry and prints every
registered operation with its interceptors, outermost first. Redis backed
policies need --redis; no connection is made while describing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			log := logger()
			deps := config.Deps{
				Logger:  log,
				Metrics: metrics.NewSimpleMetricsCollector(),
			}
			if redisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer client.Close()
				deps.Redis = client
			}

			reg := registry.New(registry.WithLogger(log))
			if err := config.Apply(reg, cfg, deps); err != nil {
				return fmt.Errorf("failed to apply %s: %w", args[0], err)
			}

			printChains(out, reg)
			return nil
		},
	}
	describeCmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for redis backed policies")

	rootCmd.AddCommand(validateCmd, describeCmd)
	return rootCmd
}

func printChains(out io.Writer, reg *registry.Registry) {
	ids := reg.Identities()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No interceptors registered")
		return
	}

	fmt.Fprintf(out, "%-40s %s\n", "Operation", "Interceptors")
	fmt.Fprintln(out, strings.Repeat("-", 80))

	for _, id := range ids {
		ics := reg.Interceptors(contracts.TypeRef(id.Owner.TypeName), id.Operation)
		names := make([]string, len(ics))
		for i, ic := range ics {
			names[i] = ic.Name()
		}
		fmt.Fprintf(out, "%-40s %s\n", truncate(id.String(), 40), strings.Join(names, " > "))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
