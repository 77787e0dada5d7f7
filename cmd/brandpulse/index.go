package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/vector"
	"github.com/hrygo/brandpulse/store"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the proper noun index",
	}
	cmd.AddCommand(newIndexBuildCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed the distinct brands, products, campaigns and platforms of the store",
		Long: `Collects the canonical proper nouns of the analytics schema, embeds them
and writes the index used to ground entity names. With the file backend the
index directory is replaced; with pgvector the rows of the embedding model are
replaced in the noun_embedding table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The index is the output here, so it may not exist yet.
			viper.Set("require-index", false)
			p, err := loadProfile(true)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, p)
			if err != nil {
				return errors.Wrap(err, "failed to open analytics store")
			}
			defer st.Close()

			embedding, err := ai.NewEmbeddingService(&ai.NewConfigFromProfile(p).Embedding)
			if err != nil {
				return err
			}
			builder := vector.NewBuilder(st, embedding).WithBatchSize(batchSize)

			start := time.Now()
			var count int
			switch p.VectorBackend {
			case vector.BackendPGVector:
				vd, ok := st.GetDriver().(store.VectorDriver)
				if !ok {
					return errors.Errorf("driver %s does not support pgvector", p.Driver)
				}
				count, err = builder.BuildPG(ctx, vd)
			default:
				count, err = builder.BuildFile(ctx, p.VectorIndexPath)
			}
			if err != nil {
				return errors.Wrap(err, "failed to build index")
			}

			target := p.VectorIndexPath
			if p.VectorBackend == vector.BackendPGVector {
				target = "noun_embedding"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d proper nouns into %s in %s\n",
				count, target, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "texts embedded per request")
	return cmd
}
