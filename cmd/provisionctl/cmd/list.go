package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/dna424/internal/config"
	"github.com/barnettlynn/dna424/internal/diagnostics"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tag in the key store",
	RunE:  runList,
}

func runList(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.ValidationEmulator)
	if err != nil {
		return err
	}
	store := openStore(cfg)
	recs, err := store.List()
	if err != nil {
		return fmt.Errorf("list key store: %w", err)
	}
	diagnostics.PrintKeyRecordList(recs)
	return nil
}
