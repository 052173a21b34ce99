package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/dna424/internal/config"
	"github.com/barnettlynn/dna424/internal/diagnostics"
	"github.com/barnettlynn/dna424/internal/sdmvalidate"
)

var validateURL string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate one or more SDM URLs against the key store's replay counter",
	Long: `Validate recomputes the CMAC embedded in an SDM URL and enforces the
per-UID monotonic read-counter policy. It never talks to a card; this is a
purely offline check against the key store, suitable for a backend handling
NFC tap redirects.

With --url, validates a single URL. Without it, reads one URL per line from
stdin and reports on each.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateURL, "url", "", "a single SDM URL to validate")
}

func runValidate(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.ValidationEmulator)
	if err != nil {
		return err
	}
	store := openStore(cfg)
	v := sdmvalidate.New(store)

	if validateURL != "" {
		return validateOne(v, validateURL)
	}

	scanner := bufio.NewScanner(os.Stdin)
	failures := 0
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		count++
		if err := validateOne(v, line); err != nil {
			failures++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	fmt.Printf("\n%d validated, %d failed\n", count, failures)
	return nil
}

func validateOne(v *sdmvalidate.Validator, rawURL string) error {
	result, err := v.Validate(rawURL)
	if result == nil {
		diagnostics.PrintError(fmt.Sprintf("%s: %v", rawURL, err))
		return err
	}
	diagnostics.PrintValidationResult(result.UID, result.Counter, result.MatchCMAC, err)
	return err
}
