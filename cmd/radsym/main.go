// Command radsym drives the radsym symbolic execution engine: load a
// flat RiSC-32 image and an optional JSON/TOML seed file, then run,
// fuzz, or replay it. Mirrors the teacher's cmd/interp in spirit (flag
// parsing, exit with status 1 on failure) but layers cobra subcommands and
// viper config over the standard library, the way this repo's domain
// stack favors the ecosystem over bare flag/log (SPEC_FULL.md §10).
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds every setting a subcommand needs, bound through viper so
// flags, environment variables, and a TOML config file layer cleanly
// (SPEC_FULL.md §10).
type Config struct {
	ProgramPath string
	SeedPath    string
	EntryPC     uint64

	SelfModify bool
	Optimized  bool
	Trace      bool
	Force      bool
	Lazy       bool

	MaxStates int
	Threads   int
	VisitCap  int
	CorpusDir string

	Sims map[uint64]string
}

func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "radsym: logger setup:", err)
		os.Exit(1)
	}
	return logger.Sugar()
}

func bindCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("program", "", "path to the flat RiSC-32 image")
	cmd.Flags().String("seed", "", "path to a JSON/TOML seed file")
	cmd.Flags().Uint64("entry", 0, "entry point address if no seed (or to override one)")
	cmd.Flags().Bool("self-modify", false, "decode one instruction at a time and re-check cached bytes against memory")
	cmd.Flags().Bool("optimized", false, "enable the dead-flag optimizer")
	cmd.Flags().Bool("trace", false, "log every executed instruction")
	cmd.Flags().Bool("force", false, "fan out to the executed instruction's jump/fail targets instead of solving the new PC")
	cmd.Flags().Bool("lazy", false, "fan out to the executed instruction's jump/fail targets only when the new PC is symbolic")
	cmd.Flags().Int("max-states", 0, "cap on total states explored (0 = unbounded)")
	cmd.Flags().Int("threads", 1, "requested worker count (scheduler always runs serially; logged only)")
	cmd.Flags().Bool("verbose", false, "enable development-mode (human-readable) logging")
	cmd.Flags().StringSlice("sim", nil, "address=name pairs installing a pkg/simtab/builtins callback (repeatable)")
	_ = viper.BindPFlags(cmd.Flags())
}

func configFromViper() *Config {
	return &Config{
		ProgramPath: viper.GetString("program"),
		SeedPath:    viper.GetString("seed"),
		EntryPC:     viper.GetUint64("entry"),
		SelfModify:  viper.GetBool("self-modify"),
		Optimized:   viper.GetBool("optimized"),
		Trace:       viper.GetBool("trace"),
		Force:       viper.GetBool("force"),
		Lazy:        viper.GetBool("lazy"),
		MaxStates:   viper.GetInt("max-states"),
		Threads:     viper.GetInt("threads"),
		VisitCap:    viper.GetInt("visit-cap"),
		CorpusDir:   viper.GetString("corpus-dir"),
		Sims:        parseSims(viper.GetStringSlice("sim")),
	}
}

func parseSims(pairs []string) map[uint64]string {
	out := map[uint64]string{}
	for _, pair := range pairs {
		addr, name, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		a, err := strconv.ParseUint(strings.TrimPrefix(addr, "0x"), 16, 64)
		if err != nil {
			if a, err = strconv.ParseUint(addr, 10, 64); err != nil {
				continue
			}
		}
		out[a] = name
	}
	return out
}

func main() {
	viper.SetEnvPrefix("RADSYM")
	viper.AutomaticEnv()

	root := &cobra.Command{
		Use:   "radsym",
		Short: "radsym explores a RiSC-32 binary's execution paths symbolically",
	}
	root.PersistentFlags().String("config", "", "TOML config file (flags > env > this file)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("radsym: reading config: %w", err)
			}
		}
		return nil
	}

	root.AddCommand(newRunCmd(), newFuzzCmd(), newReplayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "radsym:", err)
		os.Exit(1)
	}
}
