// Package diagnostics renders key-store records and tag state as tables for
// provisionctl's inspect/list subcommands, in a rounded, label/value
// two-column style.
package diagnostics

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/barnettlynn/dna424/internal/keystore"
	"github.com/barnettlynn/dna424/pkg/ntag424"
)

var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
	colorWarn    = text.Colors{text.FgYellow}
)

func style() table.Style {
	s := table.StyleRounded
	s.Color.Header = colorHeader
	s.Color.Row = text.Colors{text.FgWhite}
	s.Color.RowAlternate = text.Colors{text.FgHiWhite}
	s.Options.SeparateRows = false
	return s
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(style())
	return t
}

func stateColor(state keystore.State) string {
	switch state {
	case keystore.StateProvisioned:
		return colorSuccess.Sprint(string(state))
	case keystore.StateAbandoned:
		return colorError.Sprint(string(state))
	default:
		return colorWarn.Sprint(string(state))
	}
}

// PrintKeyRecord renders one key-store record: UID, state, key version,
// SDM URL, timestamps, replay counter, and every key slot in hex. showKeys
// controls whether slot values are printed in the clear or redacted —
// callers should pass false for anything other than a local recovery flow.
func PrintKeyRecord(rec *keystore.KeyRecord, showKeys bool) {
	fmt.Println()
	t := newTable()
	t.SetTitle(fmt.Sprintf("TAG RECORD %s", rec.UID))
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 18},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})

	t.AppendRow(table.Row{"UID", rec.UID})
	t.AppendRow(table.Row{"State", stateColor(rec.State)})
	t.AppendRow(table.Row{"Key Version", fmt.Sprintf("%d", rec.KeyVersion)})
	if rec.SDMURL != "" {
		t.AppendRow(table.Row{"SDM URL", rec.SDMURL})
	}
	t.AppendRow(table.Row{"Last Seen Counter", fmt.Sprintf("%d", rec.LastSeenCounter)})
	t.AppendRow(table.Row{"Created", rec.CreatedAt.Format("2006-01-02 15:04:05")})
	t.AppendRow(table.Row{"Updated", rec.UpdatedAt.Format("2006-01-02 15:04:05")})
	t.Render()

	fmt.Println()
	kt := newTable()
	kt.SetTitle("KEY SLOTS")
	kt.AppendHeader(table.Row{"Slot", "Role", "Value"})
	kt.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 5},
		{Number: 2, Colors: colorLabel, WidthMin: 20},
		{Number: 3, Colors: colorValue, WidthMin: 35},
	})
	roles := []string{"PICC Master", "App Read", "App Write", "SDM MAC", "Originality"}
	for i, role := range roles {
		val := "(hidden)"
		if showKeys {
			val = fmt.Sprintf("%X", rec.Keys[i])
		}
		kt.AppendRow(table.Row{i, role, val})
	}
	kt.Render()
}

// PrintKeyRecordList renders a summary table of many records, most recently
// updated first (the order internal/keystore.Store.List already returns).
func PrintKeyRecordList(recs []*keystore.KeyRecord) {
	fmt.Println()
	t := newTable()
	t.SetTitle("PROVISIONED TAGS")
	t.AppendHeader(table.Row{"UID", "State", "Key Ver", "Counter", "Updated"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorValue, WidthMin: 16},
		{Number: 2, WidthMin: 14},
		{Number: 3, Colors: colorValue, WidthMin: 8},
		{Number: 4, Colors: colorValue, WidthMin: 10},
		{Number: 5, Colors: colorValue, WidthMin: 20},
	})

	if len(recs) == 0 {
		t.AppendRow(table.Row{"-", "(no tags provisioned)", "-", "-", "-"})
	} else {
		for _, rec := range recs {
			t.AppendRow(table.Row{
				rec.UID,
				stateColor(rec.State),
				rec.KeyVersion,
				rec.LastSeenCounter,
				rec.UpdatedAt.Format("2006-01-02 15:04:05"),
			})
		}
	}
	t.Render()
	fmt.Printf("\nTotal: %d\n", len(recs))
}

// PrintTagVersion renders a GetVersion response.
func PrintTagVersion(v *ntag424.TagVersion) {
	fmt.Println()
	t := newTable()
	t.SetTitle("TAG VERSION")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 18},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"UID", fmt.Sprintf("%X", v.UID)})
	t.AppendRow(table.Row{"HW Vendor/Type", fmt.Sprintf("0x%02X / 0x%02X.%X", v.HWVendorID, v.HWType, v.HWSubType)})
	t.AppendRow(table.Row{"HW Version", fmt.Sprintf("%d.%d", v.HWMajorVer, v.HWMinorVer)})
	t.AppendRow(table.Row{"HW Storage Size", fmt.Sprintf("0x%02X", v.HWStorageSize)})
	t.AppendRow(table.Row{"SW Version", fmt.Sprintf("%d.%d", v.SWMajorVer, v.SWMinorVer)})
	t.AppendRow(table.Row{"Batch No", fmt.Sprintf("%X", v.BatchNo)})
	t.AppendRow(table.Row{"Production", fmt.Sprintf("week %02X / 20%02X (BCD)", v.ProdWeek, v.ProdYear)})
	t.Render()
}

// PrintFileSettings renders a GetFileSettings response, including the SDM
// mirror offsets when SDM is enabled on the file (bit 6 of FileOption).
func PrintFileSettings(fileNo byte, fs *ntag424.FileSettings) {
	fmt.Println()
	t := newTable()
	t.SetTitle(fmt.Sprintf("FILE 0x%02X SETTINGS", fileNo))
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 18},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})

	sdmEnabled := fs.FileOption&0x40 != 0
	t.AppendRow(table.Row{"File Type", fmt.Sprintf("0x%02X", fs.FileType)})
	t.AppendRow(table.Row{"Comm Mode", commModeName(fs.FileOption & 0x03)})
	t.AppendRow(table.Row{"SDM Enabled", boolCell(sdmEnabled)})
	t.AppendRow(table.Row{"Access Rights (AR1)", fmt.Sprintf("RW=%X CAR=%X", fs.AR1>>4, fs.AR1&0x0F)})
	t.AppendRow(table.Row{"Access Rights (AR2)", fmt.Sprintf("R=%X W=%X", fs.AR2>>4, fs.AR2&0x0F)})
	t.AppendRow(table.Row{"File Size", fmt.Sprintf("%d bytes", fs.Size)})
	t.Render()

	if !sdmEnabled {
		return
	}

	fmt.Println()
	st := newTable()
	st.SetTitle("SDM CONFIGURATION")
	st.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 18},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	st.AppendRow(table.Row{"SDMOptions", fmt.Sprintf("0x%02X", fs.SDMOptions)})
	st.AppendRow(table.Row{"UID Mirror", boolCell(fs.SDMOptions&0x80 != 0)})
	st.AppendRow(table.Row{"Counter Mirror", boolCell(fs.SDMOptions&0x40 != 0)})
	st.AppendRow(table.Row{"Encrypted File Data", boolCell(fs.SDMOptions&0x10 != 0)})
	st.AppendRow(table.Row{"SDMMeta/File/Ctr Access", fmt.Sprintf("%X / %X / %X", fs.SDMMeta, fs.SDMFile, fs.SDMCtr)})
	st.AppendRow(table.Row{"UID Offset", fmt.Sprintf("%d", fs.UIDOffset)})
	st.AppendRow(table.Row{"Ctr Offset", fmt.Sprintf("%d", fs.CtrOffset)})
	if fs.MACInputOffset != 0 || fs.MACOffset != 0 {
		st.AppendRow(table.Row{"MAC Input Offset", fmt.Sprintf("%d", fs.MACInputOffset)})
		st.AppendRow(table.Row{"MAC Offset", fmt.Sprintf("%d", fs.MACOffset)})
	}
	if fs.SDMOptions&0x10 != 0 {
		st.AppendRow(table.Row{"ENC Offset / Length", fmt.Sprintf("%d / %d", fs.ENCOffset, fs.ENCLength)})
	}
	st.Render()
}

func commModeName(bits byte) string {
	switch bits {
	case 0x00:
		return "Plain"
	case 0x01:
		return "MAC"
	case 0x03:
		return "Full"
	default:
		return fmt.Sprintf("RFU(0x%02X)", bits)
	}
}

func boolCell(b bool) string {
	if b {
		return colorSuccess.Sprint("yes")
	}
	return colorError.Sprint("no")
}

// PrintValidationResult renders the outcome of a single SDM URL validation.
func PrintValidationResult(uid string, counter uint32, matchCMAC bool, err error) {
	fmt.Println()
	t := newTable()
	t.SetTitle("SDM VALIDATION RESULT")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 15},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"UID", uid})
	t.AppendRow(table.Row{"Counter", fmt.Sprintf("%d", counter)})
	t.AppendRow(table.Row{"CMAC Match", boolCell(matchCMAC)})
	if err != nil {
		t.AppendRow(table.Row{"Result", colorError.Sprintf("REJECTED: %s", strings.TrimSpace(err.Error()))})
	} else {
		t.AppendRow(table.Row{"Result", colorSuccess.Sprint("ACCEPTED")})
	}
	t.Render()
}

// PrintAuthSlotResults renders the outcome of DiagnoseAuthSlots: one row per
// key slot probed, success/failure and (on failure) the classified error.
func PrintAuthSlotResults(results []ntag424.AuthSlotResult) {
	fmt.Println()
	t := newTable()
	t.SetTitle("KEY SLOT AUTHENTICATION PROBE")
	t.AppendHeader(table.Row{"Slot", "Result", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 6},
		{Number: 2, WidthMin: 10},
		{Number: 3, Colors: colorValue, WidthMin: 40},
	})
	for _, r := range results {
		if r.Success {
			t.AppendRow(table.Row{r.Slot, colorSuccess.Sprint("match"), "-"})
			continue
		}
		t.AppendRow(table.Row{r.Slot, colorError.Sprint("no match"), r.Err})
	}
	t.Render()
}

// PrintError prints a single ✗-prefixed error line.
func PrintError(msg string) {
	fmt.Println(colorError.Sprintf("✗ Error: %s", msg))
}

// PrintSuccess prints a single success line.
func PrintSuccess(msg string) {
	fmt.Println(colorSuccess.Sprintf("✓ %s", msg))
}

// PrintWarning prints a single warning line.
func PrintWarning(msg string) {
	fmt.Println(colorWarn.Sprintf("⚠ %s", msg))
}
