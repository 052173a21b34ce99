package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/dna424/internal/config"
	"github.com/barnettlynn/dna424/internal/diagnostics"
	"github.com/barnettlynn/dna424/internal/provision"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

var (
	formatKeyHex  string
	formatKeyFile string
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Erase application data on a tag via FormatPICC, leaving keys untouched",
	RunE:  runFormat,
}

func init() {
	formatCmd.Flags().StringVar(&formatKeyHex, "key0", "", "current PICC master key, hex (32 chars); defaults to the factory all-zero key")
	formatCmd.Flags().StringVar(&formatKeyFile, "key0-file", "", "current PICC master key, loaded from a .hex file (overrides --key0)")
}

func runFormat(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.ValidationFull)
	if err != nil {
		return err
	}

	key0 := make([]byte, 16)
	switch {
	case formatKeyFile != "":
		key0, err = ntag424.LoadKeyHexFile(formatKeyFile)
		if err != nil {
			return fmt.Errorf("load --key0-file %s: %w", formatKeyFile, err)
		}
	case strings.TrimSpace(formatKeyHex) != "":
		decoded, err := hex.DecodeString(strings.TrimSpace(formatKeyHex))
		if err != nil || len(decoded) != 16 {
			return fmt.Errorf("--key0 must be 32 hex characters (16 bytes)")
		}
		key0 = decoded
	}

	conn, err := connectReader(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := provision.Format(conn, key0); err != nil {
		return fmt.Errorf("format failed: %w", err)
	}
	diagnostics.PrintSuccess("Tag formatted (application data erased, keys unchanged)")
	return nil
}
