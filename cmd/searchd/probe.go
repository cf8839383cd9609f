package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/store"
)

// newProbeCmd probes capability readiness directly against the configured
// store, without going through a running daemon.
func newProbeCmd() *cobra.Command {
	var (
		tenant string
		scope  string
	)

	cmd := &cobra.Command{
		Use:   "probe [capability]",
		Short: "Probe capability readiness against the vector store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}

			logger := logging.NewNop()
			embedder, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}
			st, err := store.NewFromConfig(cfg.VectorStore, embedder, logger)
			if err != nil {
				return fmt.Errorf("creating store: %w", err)
			}
			defer func() { _ = st.Close() }()

			ctx := store.ContextWithTenant(cmd.Context(), &store.TenantInfo{
				TenantID: tenant,
				ScopeID:  scope,
			})

			registry := capability.NewDefaultRegistry()
			prober := capability.NewProber(registry, st, logger)

			names := make([]string, 0, 1)
			if len(args) == 1 {
				names = append(names, args[0])
			} else {
				for _, def := range registry.All() {
					names = append(names, def.Name)
				}
			}

			results := make([]capability.ProbeResult, 0, len(names))
			for _, name := range names {
				result, err := prober.Probe(ctx, name)
				if err != nil {
					return err
				}
				results = append(results, result)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if len(args) == 1 {
				return enc.Encode(results[0])
			}
			return enc.Encode(results)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to probe as")
	cmd.Flags().StringVar(&scope, "scope", "", "scope to probe within")
	return cmd
}
