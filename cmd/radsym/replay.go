package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	var inputPath, fdPath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "run a program against one concrete corpus file, seeded as a file descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromViper()
			log := newLogger(viperBool(cmd, "verbose"))
			defer log.Sync()

			eng, err := buildEngine(cfg, log)
			if err != nil {
				return err
			}

			if inputPath != "" {
				raw, err := os.ReadFile(inputPath)
				if err != nil {
					return fmt.Errorf("radsym replay: read input: %w", err)
				}
				if fdPath == "" {
					fdPath = "/tmp/in"
				}
				eng.Entry.FS.AddFile(fdPath, concreteBytes(raw))
			}

			if err := eng.Sched.Run(context.Background()); err != nil {
				return fmt.Errorf("radsym replay: %w", err)
			}
			reportOutcome(eng, log)
			return nil
		},
	}
	bindCommonFlags(cmd)
	cmd.Flags().StringVar(&inputPath, "input", "", "concrete corpus file to seed as a file descriptor")
	cmd.Flags().StringVar(&fdPath, "fd-path", "", "path to register the input file under (default /tmp/in)")
	return cmd
}
