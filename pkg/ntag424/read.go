package ntag424

import (
	"fmt"
	"log/slog"
)

// ReadBinary reads data from the currently selected file using ISO 7816
// READ BINARY (INS 0xB0), retrying with the corrected Le if the tag returns
// SW=6C00 (wrong Le). READ BINARY cannot carry DESFire secure messaging: if
// the file requires authentication, use ReadFileData with CommMode != Plain
// instead.
func ReadBinary(card Card, offset uint16, le byte) ([]byte, error) {
	apdu := []byte{0x00, insISOReadBinary, byte(offset >> 8), byte(offset), le}
	data, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}

	if (sw & 0xFF00) == SWWrongLe {
		correctLe := byte(sw & 0x00FF)
		slog.Warn("wrong Le, retrying", "original_le", apdu[4], "correct_le", correctLe)
		apdu[4] = correctLe
		data, sw, err = Transmit(card, apdu)
		if err != nil {
			return nil, err
		}
	}

	if !SwOK(sw) {
		return nil, classifyProtocolError(insISOReadBinary, sw, false)
	}
	return data, nil
}

// ReadNDEF reads the complete NDEF message from the NDEF file via ISO
// SELECT FILE/READ BINARY: selects the NDEF application, reads the
// Capability Container to find the NDEF file ID, selects it, reads NLEN,
// then reads the message in up-to-255-byte chunks.
func ReadNDEF(card Card) ([]byte, error) {
	if err := SelectNDEFApp(card); err != nil {
		return nil, err
	}

	if err := SelectFile(card, 0xE103); err != nil {
		return nil, err
	}
	cc, err := ReadBinary(card, 0x0000, 0x0F)
	if err != nil {
		return nil, err
	}
	if len(cc) < 15 {
		return nil, fmt.Errorf("CC file too short")
	}

	fileID := uint16(ndefFileID)
	if cc[7] == 0x04 && cc[8] >= 6 {
		fileID = uint16(cc[9])<<8 | uint16(cc[10])
	}

	if err := SelectFile(card, fileID); err != nil {
		return nil, err
	}

	nlenBytes, err := ReadBinary(card, 0x0000, 0x02)
	if err != nil {
		return nil, err
	}
	if len(nlenBytes) < 2 {
		return nil, fmt.Errorf("NLEN read too short")
	}
	nlen := int(nlenBytes[0])<<8 | int(nlenBytes[1])
	if nlen == 0 {
		return []byte{}, nil
	}

	ndef := make([]byte, 0, nlen)
	offset := 2
	remaining := nlen
	for remaining > 0 {
		chunk := remaining
		if chunk > 0xFF {
			chunk = 0xFF
		}
		part, err := ReadBinary(card, uint16(offset), byte(chunk))
		if err != nil {
			return nil, err
		}
		if len(part) == 0 {
			break
		}
		ndef = append(ndef, part...)
		offset += len(part)
		remaining -= len(part)
	}
	return ndef, nil
}

// ReadFileData reads file data using DESFire native ReadData (cmd 0xAD)
// under the given CommMode. If the tag reports a boundary error (offset +
// length past the end of the file), this returns an empty slice rather than
// an error: reading past the end of a short file is not a failure.
func ReadFileData(card Card, sess *Session, fileNo byte, offset, length int, mode CommMode) ([]byte, error) {
	header := []byte{fileNo}
	data := []byte{
		byte(offset), byte(offset >> 8), byte(offset >> 16),
		byte(length), byte(length >> 8), byte(length >> 16),
	}
	out, err := sess.Send(card, mode, cmdReadData, header, data, true)
	if err != nil {
		if IsBoundaryError(err) {
			return []byte{}, nil
		}
		return nil, err
	}
	return out, nil
}

// ReadCCFile reads the Capability Container (File 1, ID 0xE103).
func ReadCCFile(card Card) ([]byte, error) {
	if err := SelectNDEFApp(card); err != nil {
		return nil, err
	}
	if err := SelectFile(card, 0xE103); err != nil {
		return nil, err
	}
	return ReadBinary(card, 0x0000, 0x20)
}
