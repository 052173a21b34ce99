package ntag424

import "testing"

// TestBuildChangeFileSettingsDataParseRoundTrip checks that the encode side
// (BuildChangeFileSettingsData, used to write SDM configuration) and the
// decode side (ParseFileSettings, used to read it back) agree on the
// conditional-field layout: which offset fields are present depends on
// SDMOptions/SDMMeta/SDMFile, and both sides must derive that presence the
// same way.
func TestBuildChangeFileSettingsDataParseRoundTrip(t *testing.T) {
	const (
		commMode   = byte(0x00)
		ar1        = byte(0xE0)
		ar2        = byte(0xEE)
		sdmOptions = byte(0xC1) // UID mirror | CTR mirror | ASCII encoding
		sdmMeta    = byte(0x0E) // plain
		sdmFile    = byte(0x00)
		sdmCtr     = byte(0x00)
		uidOffset  = uint32(40)
		ctrOffset  = uint32(54)
		macInOff   = uint32(40)
		macOffset  = uint32(80)
	)

	data := BuildChangeFileSettingsData(commMode, ar1, ar2, sdmOptions, sdmMeta, sdmFile, sdmCtr,
		uidOffset, ctrOffset, macInOff, macOffset)

	// Reconstruct a GetFileSettings-shaped response: FileType(1) + the
	// write payload's FileOption/AR1/AR2 + Size(3) + the remaining SDM
	// fields, mirroring how SimCard.handleGetFileSettingsPlain builds it.
	resp := make([]byte, 0, len(data)+4)
	resp = append(resp, 0x00)
	resp = append(resp, data[0], data[1], data[2])
	resp = append(resp, 0x00, 0x01, 0x00)
	resp = append(resp, data[3:]...)

	fs, err := ParseFileSettings(resp)
	if err != nil {
		t.Fatalf("ParseFileSettings: %v", err)
	}

	if fs.AR1 != ar1 || fs.AR2 != ar2 {
		t.Fatalf("AR1/AR2 = %02X/%02X, want %02X/%02X", fs.AR1, fs.AR2, ar1, ar2)
	}
	if fs.SDMOptions != sdmOptions {
		t.Fatalf("SDMOptions = %02X, want %02X", fs.SDMOptions, sdmOptions)
	}
	if fs.SDMMeta != sdmMeta || fs.SDMFile != sdmFile || fs.SDMCtr != sdmCtr {
		t.Fatalf("SDMMeta/SDMFile/SDMCtr = %X/%X/%X, want %X/%X/%X", fs.SDMMeta, fs.SDMFile, fs.SDMCtr, sdmMeta, sdmFile, sdmCtr)
	}
	if fs.UIDOffset != uidOffset {
		t.Fatalf("UIDOffset = %d, want %d", fs.UIDOffset, uidOffset)
	}
	if fs.CtrOffset != ctrOffset {
		t.Fatalf("CtrOffset = %d, want %d", fs.CtrOffset, ctrOffset)
	}
	if fs.MACInputOffset != macInOff || fs.MACOffset != macOffset {
		t.Fatalf("MAC offsets = %d/%d, want %d/%d", fs.MACInputOffset, fs.MACOffset, macInOff, macOffset)
	}
	if (fs.FileOption & 0x40) == 0 {
		t.Fatalf("FileOption SDM-enabled bit not set: %02X", fs.FileOption)
	}
}

func TestParseFileSettingsRejectsShortData(t *testing.T) {
	if _, err := ParseFileSettings([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatalf("expected error for data shorter than the fixed header")
	}
}

func TestParseFileSettingsPlainFileNoSDM(t *testing.T) {
	data := []byte{0x00, 0x00, 0xE0, 0xEE, 0x00, 0x01, 0x00}
	fs, err := ParseFileSettings(data)
	if err != nil {
		t.Fatalf("ParseFileSettings: %v", err)
	}
	if fs.Size != 256 {
		t.Fatalf("Size = %d, want 256", fs.Size)
	}
	if fs.FileOption&0x40 != 0 {
		t.Fatalf("SDM bit unexpectedly set for a plain file")
	}
}
