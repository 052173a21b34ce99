package ntag424

import "encoding/hex"

const (
	ndefFileID = 0xE104
	ndefAppAID = "D2760000850101"
)

// SelectNDEFApp selects the NFC Forum NDEF application (AID D2760000850101).
//
// CRITICAL: this invalidates any active authentication session. Always
// select before authenticating, or re-authenticate after selecting.
func SelectNDEFApp(card Card) error {
	aid, _ := hex.DecodeString(ndefAppAID)
	apdu := append([]byte{0x00, insISOSelectFile, 0x04, 0x00, byte(len(aid))}, aid...)
	apdu = append(apdu, 0x00)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return classifyProtocolError(insISOSelectFile, sw, false)
	}
	return nil
}

// SelectFile selects a file by its 16-bit ID using ISO 7816 SELECT FILE.
// Common IDs: 0xE103 (Capability Container), 0xE104 (NDEF), 0xE105
// (proprietary data file).
//
// CRITICAL: this invalidates any active authentication session. Always
// select before authenticating, or re-authenticate after selecting.
func SelectFile(card Card, fileID uint16) error {
	apdu := []byte{0x00, insISOSelectFile, 0x00, 0x0C, 0x02, byte(fileID >> 8), byte(fileID)}
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return classifyProtocolError(insISOSelectFile, sw, false)
	}
	return nil
}

// WriteNDEFPlain selects the NDEF app and file, then writes data without
// authentication.
func WriteNDEFPlain(card Card, data []byte) error {
	if err := SelectNDEFApp(card); err != nil {
		return err
	}
	if err := SelectFile(card, ndefFileID); err != nil {
		return err
	}
	return WriteNDEFData(card, data)
}

// WriteNDEFWithAuth writes NDEF data assuming the NDEF app is already
// selected and an auth session is active; it re-selects only the file
// (SelectFile does not reset secure messaging the way SelectNDEFApp does,
// since no session is open on the ISO layer to begin with — the session
// lives entirely at the DESFire layer underneath).
func WriteNDEFWithAuth(card Card, data []byte) error {
	if err := SelectFile(card, ndefFileID); err != nil {
		return err
	}
	return WriteNDEFData(card, data)
}

// WriteNDEFData writes data via ISO UPDATE BINARY (INS 0xD6) in chunks of up
// to 255 bytes. Caller must ensure the NDEF app and file are already
// selected. This is plain ISO file I/O, used when the NDEF file's access
// rights are Free — SDM-protected writes go through Session.WriteDataChunked
// instead.
func WriteNDEFData(card Card, data []byte) error {
	offset := 0
	for offset < len(data) {
		chunk := len(data) - offset
		if chunk > 0xFF {
			chunk = 0xFF
		}

		apdu := make([]byte, 0, 5+chunk)
		apdu = append(apdu, 0x00, insISOUpdateBinary, byte(offset>>8), byte(offset), byte(chunk))
		apdu = append(apdu, data[offset:offset+chunk]...)

		_, sw, err := Transmit(card, apdu)
		if err != nil {
			return err
		}
		if !SwOK(sw) {
			return classifyProtocolError(insISOUpdateBinary, sw, false)
		}
		offset += chunk
	}
	return nil
}
