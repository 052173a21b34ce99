package ntag424

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// FileSettings is the full parsed GetFileSettings response, including the
// conditional SDM offset fields.
type FileSettings struct {
	FileType   byte   // 0x00 = standard data file
	FileOption byte   // bit 6 = SDM enabled, bits 1:0 = comm mode
	AR1        byte   // [ReadWrite nibble | ChangeAccessRights nibble]
	AR2        byte   // [Read nibble | Write nibble]
	Size       int    // file size in bytes (3-byte LE)
	SDMOptions byte   // bit 7=UID, bit 6=Ctr, bit 5=CtrLimit, bit 4=ENC, bit 0=ASCII
	SDMMeta    byte   // meta access rights (upper nibble of SDMAR)
	SDMFile    byte   // file access rights (bits 11:8 of SDMAR)
	SDMCtr     byte   // counter access rights (lower nibble of SDMAR)
	RawData    []byte

	// Conditional SDM offset fields, present depending on SDMOptions/SDMAR;
	// see BuildChangeFileSettingsData for the matching encode side.
	UIDOffset      uint32
	CtrOffset      uint32
	MACInputOffset uint32
	MACOffset      uint32
	ENCOffset      uint32
	ENCLength      uint32
	CtrLimit       uint32
}

// ParseFileSettings parses the raw GetFileSettings response body.
func ParseFileSettings(data []byte) (*FileSettings, error) {
	if len(data) < 7 {
		return nil, errors.New("file settings too short")
	}
	fs := &FileSettings{}
	fs.FileType = data[0]
	fs.FileOption = data[1]
	fs.AR1 = data[2]
	fs.AR2 = data[3]
	fs.Size = int(data[4]) | int(data[5])<<8 | int(data[6])<<16
	fs.RawData = make([]byte, len(data))
	copy(fs.RawData, data)

	idx := 7
	if (fs.FileOption & 0x40) == 0 {
		return fs, nil
	}

	if len(data) < idx+3 {
		return nil, errors.New("file settings missing SDM fields")
	}
	fs.SDMOptions = data[idx]
	sdmAR := uint16(data[idx+1]) | (uint16(data[idx+2]) << 8)
	fs.SDMMeta = byte((sdmAR >> 12) & 0x0F)
	fs.SDMFile = byte((sdmAR >> 8) & 0x0F)
	fs.SDMCtr = byte(sdmAR & 0x0F)
	idx += 3

	if (fs.SDMOptions&0x80) != 0 && fs.SDMMeta == 0x0E {
		if len(data) < idx+3 {
			return nil, errors.New("file settings missing UIDOffset")
		}
		fs.UIDOffset = readU24le(data, idx)
		idx += 3
	}

	if (fs.SDMOptions&0x40) != 0 && fs.SDMMeta == 0x0E {
		if len(data) < idx+3 {
			return nil, errors.New("file settings missing CtrOffset")
		}
		fs.CtrOffset = readU24le(data, idx)
		idx += 3
	}

	// PICCDataOffset: present if meta is not plain (encrypted PICC data);
	// reuses the UIDOffset field since the two are mutually exclusive.
	if fs.SDMMeta != 0x0E && fs.SDMMeta != 0x0F {
		if len(data) < idx+3 {
			return nil, errors.New("file settings missing PICCDataOffset")
		}
		fs.UIDOffset = readU24le(data, idx)
		idx += 3
	}

	if fs.SDMFile != 0x0F {
		if len(data) < idx+6 {
			return nil, errors.New("file settings missing MAC offsets")
		}
		fs.MACInputOffset = readU24le(data, idx)
		fs.MACOffset = readU24le(data, idx+3)
		idx += 6
	}

	if (fs.SDMOptions & 0x10) != 0 {
		if len(data) < idx+6 {
			return nil, errors.New("file settings missing ENC offsets")
		}
		fs.ENCOffset = readU24le(data, idx)
		fs.ENCLength = readU24le(data, idx+3)
		idx += 6
	}

	if (fs.SDMOptions & 0x20) != 0 {
		if len(data) < idx+3 {
			return nil, errors.New("file settings missing CtrLimit")
		}
		fs.CtrLimit = readU24le(data, idx)
		idx += 3
	}

	return fs, nil
}

func readU24le(data []byte, offset int) uint32 {
	return uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16
}

func u24le(v uint32) []byte {
	return []byte{byte(v & 0xFF), byte((v >> 8) & 0xFF), byte((v >> 16) & 0xFF)}
}

// GetFileSettings tries several plain APDU Le variants first (tags are
// inconsistent about which Le they accept for this command), then falls
// back to a Full-mode GetFileSettings on sess. The loop around that call
// re-sends only after a length error, but Send closes the session on any
// error, so a second attempt returns *SessionClosedError and ends the loop.
func GetFileSettings(card Card, sess *Session, fileNo byte) (*FileSettings, error) {
	plainFormats := [][]byte{
		{0x90, cmdGetFileSettings, 0x00, 0x00, 0x01, fileNo, 0x20},
		{0x90, cmdGetFileSettings, 0x00, 0x00, 0x01, fileNo, 0x10},
		{0x90, cmdGetFileSettings, 0x00, 0x00, 0x01, fileNo},
		{0x90, cmdGetFileSettings, 0x00, 0x00, 0x01, fileNo, 0x00},
	}

	var plainSW uint16
	for i, apdu := range plainFormats {
		resp, sw, err := Transmit(card, apdu)
		plainSW = sw
		slog.Debug("GetFileSettings plain attempt",
			"file_no", fmt.Sprintf("%02X", fileNo), "attempt", i+1,
			"sw", fmt.Sprintf("%04X", sw), "resp_len", len(resp))
		if err == nil && SwOK(sw) {
			return ParseFileSettings(resp)
		}
	}

	slog.Warn("GetFileSettings fallback to secure", "last_sw", fmt.Sprintf("%04X", plainSW))

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		out, err := sess.Send(card, CommFull, cmdGetFileSettings, []byte{fileNo}, nil, false)
		if err == nil {
			return ParseFileSettings(out)
		}
		lastErr = err
		if !IsLengthError(lastErr) {
			break
		}
	}

	return nil, fmt.Errorf("plain SW=%04X; secure err: %w", plainSW, lastErr)
}

// GetFileSettingsPlain retrieves file settings using a plain APDU only.
func GetFileSettingsPlain(card Card, fileNo byte) (*FileSettings, error) {
	apdu := []byte{0x90, cmdGetFileSettings, 0x00, 0x00, 0x01, fileNo, 0x00}
	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, classifyProtocolError(cmdGetFileSettings, sw, false)
	}
	return ParseFileSettings(resp)
}

// GetFileSettingsSecure retrieves file settings using Full CommMode only.
func GetFileSettingsSecure(card Card, sess *Session, fileNo byte) (*FileSettings, error) {
	out, err := sess.Send(card, CommFull, cmdGetFileSettings, []byte{fileNo}, nil, false)
	if err != nil {
		return nil, err
	}
	return ParseFileSettings(out)
}

// ChangeFileSettingsBasic modifies file settings without SDM configuration.
func ChangeFileSettingsBasic(card Card, sess *Session, fileNo byte, fileOption, ar1, ar2 byte) error {
	data := []byte{fileOption, ar1, ar2}
	_, err := sess.Send(card, CommFull, cmdChangeFileSettings, []byte{fileNo}, data, false)
	return err
}

// ChangeFileSettingsSDM modifies file settings including SDM configuration.
func ChangeFileSettingsSDM(card Card, sess *Session, fileNo byte, commMode byte, ar1, ar2 byte,
	sdmOptions, sdmMeta, sdmFile, sdmCtr byte,
	uidOffset, ctrOffset, macInputOffset, macOffset uint32) error {

	data := BuildChangeFileSettingsData(commMode, ar1, ar2, sdmOptions, sdmMeta, sdmFile, sdmCtr,
		uidOffset, ctrOffset, macInputOffset, macOffset)
	_, err := sess.Send(card, CommFull, cmdChangeFileSettings, []byte{fileNo}, data, false)
	return err
}

// BuildChangeFileSettingsData constructs the ChangeFileSettings data
// payload. The UID, counter and MAC offset fields are included under the
// same SDMOptions/SDMMeta/SDMFile conditions ParseFileSettings uses on the
// way back; the PICCDataOffset, ENC offset/length and CtrLimit fields that
// ParseFileSettings can read are never emitted.
func BuildChangeFileSettingsData(commMode, ar1, ar2, sdmOptions, sdmMeta, sdmFile, sdmCtr byte,
	uidOffset, ctrOffset, macInputOffset, macOffset uint32) []byte {

	data := make([]byte, 0, 64)
	fileOption := commMode & 0x03
	if sdmOptions != 0x00 {
		fileOption |= 0x40
	}
	data = append(data, fileOption, ar1, ar2, sdmOptions)

	sdmAR := uint16((uint16(sdmMeta&0x0F) << 12) | (uint16(sdmFile&0x0F) << 8) | (0x0F << 4) | uint16(sdmCtr&0x0F))
	data = append(data, byte(sdmAR&0xFF), byte((sdmAR>>8)&0xFF))

	if (sdmOptions&0x80) != 0 && sdmMeta == 0x0E {
		data = append(data, u24le(uidOffset)...)
	}
	if (sdmOptions&0x40) != 0 && sdmMeta == 0x0E {
		data = append(data, u24le(ctrOffset)...)
	}
	if sdmFile != 0x0F {
		data = append(data, u24le(macInputOffset)...)
		data = append(data, u24le(macOffset)...)
	}

	return data
}
