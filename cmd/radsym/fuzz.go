package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newFuzzCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "depth-first corpus generation: emit byte solutions at every branch/call",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromViper()
			if cfg.CorpusDir == "" {
				return fmt.Errorf("radsym fuzz: --corpus-dir is required")
			}
			log := newLogger(viperBool(cmd, "verbose"))
			defer log.Sync()

			eng, err := buildEngine(cfg, log)
			if err != nil {
				return err
			}
			if err := eng.Sched.Fuzz(context.Background()); err != nil {
				return fmt.Errorf("radsym fuzz: %w", err)
			}
			reportOutcome(eng, log)
			return nil
		},
	}
	bindCommonFlags(cmd)
	cmd.Flags().Int("visit-cap", 4, "max re-entries into one PC before parking the state")
	cmd.Flags().String("corpus-dir", "", "directory to write one file per unique per-symbol solution")
	_ = viper.BindPFlags(cmd.Flags())
	return cmd
}
