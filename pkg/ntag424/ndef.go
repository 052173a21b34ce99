package ntag424

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
)

const (
	sdmUIDLenASCII  = 14
	sdmCtrLenASCII  = 6
	sdmCmacLenASCII = 16

	// ndefHeaderLen is the fixed byte count before the URI tail begins:
	// NLEN(2) + TLV tag/len(2) + D1 01 PayloadLen(3) + 'U'(1) + URI ID code(1).
	ndefHeaderLen = 9
)

// SDMOffsets names the file-byte positions of the SDM mirror placeholders
// inside an NDEF file. Offsets are strictly non-overlapping in the order
// UID(14) -> CTR(6) -> CMAC(16).
type SDMOffsets struct {
	UIDOffset      uint32
	CtrOffset      uint32
	MacInputOffset uint32 // start of the MAC-covered span; equals UIDOffset
	CmacOffset     uint32
}

// SDMNDEF is a built NDEF/Type-4 file with SDM placeholders ready to write.
type SDMNDEF struct {
	URL  string // full URL with zero-filled uid/ctr/cmac placeholders
	NDEF []byte // complete NDEF file content (NLEN + TLV-wrapped record + terminator)
	SDMOffsets
}

// BuildSDMNDEF constructs the Type-4 NDEF file content for a base URL,
// inserting uid/ctr/cmac query placeholders in that fixed order and
// computing the byte offsets the tag's SDM engine needs.
func BuildSDMNDEF(baseURL string) (*SDMNDEF, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("URL must be absolute (include scheme and host)")
	}
	parsed.Fragment = ""

	// Build the query string by hand to preserve uid/ctr/cmac ordering;
	// url.Values.Encode() sorts alphabetically, which would break the
	// NTAG 424 DNA ordering constraint.
	existing := parsed.Query()
	var params []string
	params = append(params, fmt.Sprintf("uid=%s", strings.Repeat("0", sdmUIDLenASCII)))
	params = append(params, fmt.Sprintf("ctr=%s", strings.Repeat("0", sdmCtrLenASCII)))
	params = append(params, fmt.Sprintf("cmac=%s", strings.Repeat("0", sdmCmacLenASCII)))
	for key, values := range existing {
		if key == "uid" || key == "ctr" || key == "cmac" {
			continue
		}
		for _, value := range values {
			params = append(params, fmt.Sprintf("%s=%s", url.QueryEscape(key), url.QueryEscape(value)))
		}
	}
	parsed.RawQuery = strings.Join(params, "&")
	fullURL := parsed.String()

	prefixCode := byte(0x00)
	uri := fullURL
	for _, p := range []struct {
		prefix string
		code   byte
	}{
		{prefix: "https://www.", code: 0x02},
		{prefix: "http://www.", code: 0x01},
		{prefix: "https://", code: 0x04},
		{prefix: "http://", code: 0x03},
	} {
		if strings.HasPrefix(fullURL, p.prefix) {
			prefixCode = p.code
			uri = fullURL[len(p.prefix):]
			break
		}
	}

	payloadLen := 1 + len(uri) // URI ID code + URI tail
	if payloadLen > 255 {
		return nil, fmt.Errorf("URI too long")
	}
	recordLen := 3 + 1 + payloadLen // D1, 01, PayloadLen byte, 'U', then payload
	if recordLen > 255 {
		return nil, fmt.Errorf("NDEF record too long for single-byte TLV length")
	}
	tlvBlockLen := 2 + recordLen + 1 // 0x03, TLV-Len byte, record, terminator
	totalLen := 2 + tlvBlockLen      // NLEN(2) + TLV block
	if totalLen > 256 {
		return nil, fmt.Errorf("NDEF file too long")
	}

	ndef := make([]byte, totalLen)
	ndef[0] = byte((tlvBlockLen >> 8) & 0xFF)
	ndef[1] = byte(tlvBlockLen & 0xFF)
	ndef[2] = 0x03 // NDEF Message TLV tag
	ndef[3] = byte(recordLen)
	ndef[4] = 0xD1 // MB=1,ME=1,SR=1,TNF=0x01 (well-known)
	ndef[5] = 0x01 // type length
	ndef[6] = byte(payloadLen)
	ndef[7] = 0x55 // 'U' (URI record)
	ndef[8] = prefixCode
	copy(ndef[ndefHeaderLen:], []byte(uri))
	ndef[totalLen-1] = 0xFE // terminator TLV

	uidIdx := bytes.Index([]byte(uri), []byte("uid="))
	ctrIdx := bytes.Index([]byte(uri), []byte("ctr="))
	cmacIdx := bytes.Index([]byte(uri), []byte("cmac="))
	if uidIdx < 0 || ctrIdx < 0 || cmacIdx < 0 {
		return nil, fmt.Errorf("failed to locate uid/ctr/cmac in URI")
	}

	uidOffset := ndefHeaderLen + uidIdx + len("uid=")
	ctrOffset := ndefHeaderLen + ctrIdx + len("ctr=")
	cmacOffset := ndefHeaderLen + cmacIdx + len("cmac=")

	if uidOffset+sdmUIDLenASCII > len(ndef) || ctrOffset+sdmCtrLenASCII > len(ndef) || cmacOffset+sdmCmacLenASCII > len(ndef) {
		return nil, fmt.Errorf("offsets out of range")
	}
	if !(uidOffset+sdmUIDLenASCII <= ctrOffset && ctrOffset+sdmCtrLenASCII <= cmacOffset) {
		return nil, fmt.Errorf("SDM offsets overlap or are out of order (uid -> ctr -> cmac)")
	}

	return &SDMNDEF{
		URL:  fullURL,
		NDEF: ndef,
		SDMOffsets: SDMOffsets{
			UIDOffset:      uint32(uidOffset),
			CtrOffset:      uint32(ctrOffset),
			MacInputOffset: uint32(uidOffset),
			CmacOffset:     uint32(cmacOffset),
		},
	}, nil
}
