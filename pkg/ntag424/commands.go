package ntag424

// CommMode is the communication mode a secure-messaging command is framed
// under, per AN12196 §9: Plain (cleartext, no MAC), MAC (cleartext + CMAC),
// or Full (encrypted + CMAC). The mode a given command must use is dictated
// by the FileSettings access rights for the file/key it touches, not by the
// command itself, so callers pick the mode explicitly rather than the
// catalog choosing it for them.
type CommMode int

const (
	CommPlain CommMode = iota
	CommMAC
	CommFull
)

func (m CommMode) String() string {
	switch m {
	case CommPlain:
		return "plain"
	case CommMAC:
		return "mac"
	case CommFull:
		return "full"
	default:
		return "unknown"
	}
}

// DESFire/NTAG 424 DNA command bytes used by this engine. ISO 7816 wrapper
// command bytes live alongside them since both speak through the same
// Transmit path.
const (
	cmdAuthenticateEV2First = 0x71
	cmdAdditionalFrame      = 0xAF
	cmdGetVersion           = 0x60
	cmdGetKeyVersion        = 0x64
	cmdChangeKey            = 0xC4
	cmdChangeFileSettings   = 0x5F
	cmdGetFileSettings      = 0xF5
	cmdReadData             = 0xAD
	cmdWriteData            = 0x8D
	cmdFormatPICC           = 0xFC

	insISOSelectFile   = 0xA4
	insISOReadBinary   = 0xB0
	insISOUpdateBinary = 0xD6
)

// maxChunkSize is the largest data payload this engine puts in a single
// WriteData/UpdateBinary APDU. NTAG 424 DNA's APDU buffer tops out well
// under 256 bytes of command data once CLA/INS/P1/P2/Lc/header/MAC overhead
// is subtracted; 48 leaves comfortable room for any CommMode's framing.
const maxChunkSize = 48
