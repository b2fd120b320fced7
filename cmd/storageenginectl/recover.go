package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackdeer1524/storage-engine/src/bufferpool"
	"github.com/blackdeer1524/storage-engine/src/pkg/common"
	"github.com/blackdeer1524/storage-engine/src/recovery"
	"github.com/blackdeer1524/storage-engine/src/storage/disk"
)

func newRecoverCmd(e *env) *cobra.Command {
	var fanout int

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay the write-ahead log against the data file (ARIES redo then undo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dm, err := disk.Open(e.fs, e.cfg.DataFilePath, e.cfg.LogFilePath, e.logger)
			if err != nil {
				return fmt.Errorf("opening data/log files: %w", err)
			}
			defer dm.Close()

			pool := bufferpool.New(e.cfg.PoolSizeFrames, e.cfg.BucketSize, dm, common.NopWALFlusher{}, e.logger)

			driver, err := recovery.NewDriver(dm, pool, e.logger, fanout)
			if err != nil {
				return fmt.Errorf("building recovery driver: %w", err)
			}
			defer driver.Close()

			e.logger.Infow("recovery starting", "data_file", e.cfg.DataFilePath, "log_file", e.cfg.LogFilePath)
			if err := driver.Recover(); err != nil {
				return fmt.Errorf("recovery failed: %w", err)
			}

			// Every page redo/undo touched was only marked dirty in the pool;
			// recovery's own contract (spec: "recovered state must be durable
			// before the engine accepts new work") requires it on disk before
			// this command exits.
			if err := pool.FlushAllPages(); err != nil {
				return fmt.Errorf("flushing recovered pages: %w", err)
			}

			e.logger.Infow("recovery complete")
			fmt.Fprintln(cmd.OutOrStdout(), "recovery complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&fanout, "undo-fanout", 8, "number of transactions undone concurrently")
	return cmd
}
