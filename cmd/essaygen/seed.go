package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/internal/store"
	"github.com/mohammad-safakhou/essaygen/repository"
)

func seedCMD(load loader) *cobra.Command {
	var file string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Load source records from a JSON fixture file into the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := load()
			if err != nil {
				return err
			}
			defer cleanup()
			if !repository.RepoType(cfg.Storage.Driver).Writable() {
				return fmt.Errorf("storage driver %q is read-only", cfg.Storage.Driver)
			}
			fixtures, err := store.LoadFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			repo, err := repository.NewRecordRepository(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer repo.Close()

			recs := fixtures.Records()
			for _, rec := range recs {
				if err := repo.Upsert(ctx, rec); err != nil {
					return fmt.Errorf("seed %s/%s: %w", rec.Collection, rec.ID, err)
				}
			}
			logger.Info("seeded records", zap.String("file", file), zap.Int("count", len(recs)))
			return nil
		},
	}
	seed.Flags().StringVar(&file, "file", "fixtures.json", "fixture file of the form {\"users\": [...], \"scholarships\": [...]}")
	return seed
}
