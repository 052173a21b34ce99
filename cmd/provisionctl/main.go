// Command provisionctl drives NTAG424 DNA provisioning: key rotation,
// SDM/NDEF setup, factory reset, and offline SDM URL validation, all backed
// by a single CSV key store.
package main

import (
	"github.com/barnettlynn/dna424/cmd/provisionctl/cmd"
)

func main() {
	cmd.Execute()
}
