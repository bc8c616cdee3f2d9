package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/turbine-data/adsync/internal/catalog"
)

func newDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Prints the default catalog of syncable streams as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.Discover())
		},
	}
}
