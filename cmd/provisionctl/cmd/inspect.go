package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/dna424/internal/config"
	"github.com/barnettlynn/dna424/internal/diagnostics"
	"github.com/barnettlynn/dna424/internal/provision"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

var (
	inspectFileNo    uint8
	inspectShowStore bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Read tag version, file settings, and key-store record without modifying the tag",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().Uint8Var(&inspectFileNo, "file", 0x02, "file number to inspect with GetFileSettings")
	inspectCmd.Flags().BoolVar(&inspectShowStore, "store-record", true, "also look up the key store record for this UID")
}

func runInspect(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.ValidationFull)
	if err != nil {
		return err
	}

	conn, err := connectReader(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ver, err := ntag424.GetVersion(conn)
	if err != nil {
		return fmt.Errorf("GetVersion: %w", err)
	}
	diagnostics.PrintTagVersion(ver)
	uid := provision.UIDHex(ver.UID)

	fs, err := ntag424.GetFileSettingsPlain(conn, inspectFileNo)
	if err != nil {
		diagnostics.PrintWarning(fmt.Sprintf("GetFileSettings(0x%02X) failed (file may require authentication): %v", inspectFileNo, err))
	} else {
		diagnostics.PrintFileSettings(inspectFileNo, fs)
	}

	if inspectShowStore {
		store := openStore(cfg)
		rec, err := store.Get(uid)
		if err != nil {
			diagnostics.PrintWarning(fmt.Sprintf("no key store record for UID %s", uid))
		} else {
			diagnostics.PrintKeyRecord(rec, false)
		}
	}
	return nil
}
