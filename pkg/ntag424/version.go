package ntag424

// TagVersion holds the hardware and software version information from
// GetVersion, including UID, batch number, and production date.
type TagVersion struct {
	HWVendorID    byte
	HWType        byte
	HWSubType     byte
	HWMajorVer    byte
	HWMinorVer    byte
	HWStorageSize byte
	HWProtocol    byte
	SWVendorID    byte
	SWType        byte
	SWSubType     byte
	SWMajorVer    byte
	SWMinorVer    byte
	SWStorageSize byte
	SWProtocol    byte
	UID           []byte // 7-byte UID
	BatchNo       []byte // 5-byte batch number
	FabKey        byte
	ProdYear      byte // BCD
	ProdWeek      byte
}

// GetVersion retrieves the tag version using DESFire GetVersion (cmd 0x60),
// a three-part command exchange at PICC level (outside any authenticated
// session, so it is always Plain).
func GetVersion(card Card) (*TagVersion, error) {
	apdu1 := []byte{0x90, cmdGetVersion, 0x00, 0x00, 0x00}
	resp1, sw, err := Transmit(card, apdu1)
	if err != nil {
		return nil, err
	}
	if sw != SWMoreData || len(resp1) != 7 {
		return nil, classifyProtocolError(cmdGetVersion, sw, false)
	}

	apdu2 := []byte{0x90, cmdAdditionalFrame, 0x00, 0x00, 0x00}
	resp2, sw, err := Transmit(card, apdu2)
	if err != nil {
		return nil, err
	}
	if sw != SWMoreData || len(resp2) != 7 {
		return nil, classifyProtocolError(cmdAdditionalFrame, sw, false)
	}

	apdu3 := []byte{0x90, cmdAdditionalFrame, 0x00, 0x00, 0x00}
	resp3, sw, err := Transmit(card, apdu3)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) || len(resp3) != 14 {
		return nil, classifyProtocolError(cmdAdditionalFrame, sw, false)
	}

	return &TagVersion{
		HWVendorID:    resp1[0],
		HWType:        resp1[1],
		HWSubType:     resp1[2],
		HWMajorVer:    resp1[3],
		HWMinorVer:    resp1[4],
		HWStorageSize: resp1[5],
		HWProtocol:    resp1[6],
		SWVendorID:    resp2[0],
		SWType:        resp2[1],
		SWSubType:     resp2[2],
		SWMajorVer:    resp2[3],
		SWMinorVer:    resp2[4],
		SWStorageSize: resp2[5],
		SWProtocol:    resp2[6],
		UID:           resp3[0:7],
		BatchNo:       resp3[7:12],
		FabKey:        resp3[12],
		ProdYear:      resp3[13] >> 4,
		ProdWeek:      resp3[13] & 0x0F,
	}, nil
}

// GetKeyVersion retrieves the key version byte for a key slot using DESFire
// GetKeyVersion (cmd 0x64). Authentication is not required to read it.
func GetKeyVersion(card Card, keySlot byte) (byte, error) {
	apdu := []byte{0x90, cmdGetKeyVersion, 0x00, 0x00, 0x01, keySlot, 0x00}
	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		return 0, err
	}
	if !SwOK(sw) || len(resp) < 1 {
		return 0, classifyProtocolError(cmdGetKeyVersion, sw, false)
	}
	return resp[0], nil
}
