package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/dna424/internal/config"
	"github.com/barnettlynn/dna424/internal/diagnostics"
	"github.com/barnettlynn/dna424/internal/provision"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

var (
	provisionUID     string
	provisionBaseURL string
	provisionSDMRead string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run the three-session factory-to-provisioned flow on a tag",
	RunE:  runProvision,
}

func init() {
	provisionCmd.Flags().StringVar(&provisionUID, "uid", "", "expected tag UID hex (optional; read from the tag if omitted)")
	provisionCmd.Flags().StringVar(&provisionBaseURL, "base-url", "", "SDM URL template (overrides config.sdm.base_url)")
	provisionCmd.Flags().StringVar(&provisionSDMRead, "sdm-file-read", "cmac", "SDM file read mode: \"cmac\" or \"never\"")
}

func runProvision(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.ValidationFull)
	if err != nil {
		return err
	}

	var sdmRead provision.SDMFileReadMode
	switch strings.ToLower(provisionSDMRead) {
	case "cmac":
		sdmRead = provision.SDMFileReadCMAC
	case "never":
		sdmRead = provision.SDMFileReadNever
	default:
		return fmt.Errorf("--sdm-file-read must be \"cmac\" or \"never\", got %q", provisionSDMRead)
	}

	baseURL := cfg.SDM.BaseURL
	if provisionBaseURL != "" {
		baseURL = provisionBaseURL
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
	uid := provision.UIDHex(ver.UID)
	if provisionUID != "" && !strings.EqualFold(provisionUID, uid) {
		return fmt.Errorf("tag UID %s does not match expected --uid %s", uid, provisionUID)
	}
	diagnostics.PrintSuccess(fmt.Sprintf("Tag UID: %s", uid))

	store := openStore(cfg)
	result, err := provision.Provision(conn, store, uid, provision.Options{
		BaseURL:     baseURL,
		SDMFileRead: sdmRead,
	})
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	diagnostics.PrintSuccess("Tag provisioned successfully")
	diagnostics.PrintKeyRecord(result.Record, false)
	return nil
}
