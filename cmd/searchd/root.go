package main

import (
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "searchd",
		Short: "Multi-tenant search daemon for fleet-maintenance data",
		Long: `searchd turns free-text maintenance queries into ranked, tenant-isolated
result sets by combining deterministic identifier resolution, fuzzy text
matching and vector similarity search.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newVersionCmd())
	return root
}
