package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "explore a program's reachable states to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromViper()
			log := newLogger(viperBool(cmd, "verbose"))
			defer log.Sync()

			eng, err := buildEngine(cfg, log)
			if err != nil {
				return err
			}
			if err := eng.Sched.Run(context.Background()); err != nil {
				return fmt.Errorf("radsym run: %w", err)
			}
			reportOutcome(eng, log)
			return nil
		},
	}
	bindCommonFlags(cmd)
	return cmd
}

func viperBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func reportOutcome(eng *Engine, log *zap.SugaredLogger) {
	log.Infow("exploration finished", "broken", len(eng.Sched.Broken), "avoided", len(eng.Sched.Avoided))
	for i, st := range eng.Sched.Broken {
		pc, _ := st.Regs.GetPC(st.Solver).AsUint64()
		log.Infow("reached break", "index", i, "pc", fmt.Sprintf("0x%x", pc))
		for name, v := range st.Symbols {
			if n, ok := st.Solver.Eval(v.ToBV(st.Solver)); ok {
				log.Infow("symbol solution", "state", i, "symbol", name, "value", fmt.Sprintf("0x%x", n))
			}
		}
	}
}
