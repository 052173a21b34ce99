package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/dna424/internal/config"
	"github.com/barnettlynn/dna424/internal/diagnostics"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

var (
	diagKeyHex  string
	diagKeyFile string
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Probe which key slot a candidate key authenticates against",
	Long: `diag tries EV2First authentication against key slots 0-4 with a single
candidate key, reporting which (if any) slot accepts it. Useful for
recovering a tag whose provisioning state is unknown: "is this the factory
key, or an app key left over from a previous run?"

The candidate key comes from --key (32 hex chars) or --key-file (a single
line of 32 hex characters).`,
	RunE: runDiag,
}

func init() {
	diagCmd.Flags().StringVar(&diagKeyHex, "key", "", "candidate key, hex (32 chars)")
	diagCmd.Flags().StringVar(&diagKeyFile, "key-file", "", "candidate key, loaded from a .hex file")
}

func runDiag(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.ValidationFull)
	if err != nil {
		return err
	}

	key, err := resolveDiagKey()
	if err != nil {
		return err
	}

	conn, err := connectReader(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := ntag424.SelectNDEFApp(conn); err != nil {
		return fmt.Errorf("select NDEF application: %w", err)
	}

	results := ntag424.DiagnoseAuthSlots(conn, key, []byte{0, 1, 2, 3, 4})
	diagnostics.PrintAuthSlotResults(results)
	return nil
}

func resolveDiagKey() ([]byte, error) {
	switch {
	case diagKeyFile != "":
		key, err := ntag424.LoadKeyHexFile(diagKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load --key-file %s: %w", diagKeyFile, err)
		}
		return key, nil
	case diagKeyHex != "":
		key, err := hex.DecodeString(strings.TrimSpace(diagKeyHex))
		if err != nil || len(key) != 16 {
			return nil, fmt.Errorf("--key must be 32 hex characters (16 bytes)")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("one of --key or --key-file is required")
	}
}
