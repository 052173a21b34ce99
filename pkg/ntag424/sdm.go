package ntag424

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// DeriveSDMSessionKey derives the SDM MAC session key from a base key, UID,
// and read counter. Unlike the EV2 session keys, this derivation uses a
// single CMAC over one SV, not a pair.
//
// SV2 = 3C C3 00 01 00 80 || UID(7) || Counter_LE(3)
// SDMSessionKey = AES-CMAC(baseKey, SV2)
func DeriveSDMSessionKey(baseKey, uid, ctrLE []byte) ([]byte, error) {
	if len(baseKey) != 16 {
		return nil, fmt.Errorf("base key must be 16 bytes, got %d", len(baseKey))
	}
	if len(uid) != 7 {
		return nil, fmt.Errorf("UID must be 7 bytes, got %d", len(uid))
	}
	if len(ctrLE) != 3 {
		return nil, fmt.Errorf("counter must be 3 bytes, got %d", len(ctrLE))
	}

	sv2 := make([]byte, 0, 16)
	sv2 = append(sv2, 0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80)
	sv2 = append(sv2, uid...)
	sv2 = append(sv2, ctrLE...)

	return aesCMAC(baseKey, sv2)
}

// ParseSDMURL extracts uid, ctr, and cmac parameters from an SDM URL.
//
// Returns:
//   - uid: 14-character hex string (7 bytes)
//   - ctr: 6-character hex string (3 bytes big-endian)
//   - cmac: 16-character hex string (8 bytes truncated CMAC)
func ParseSDMURL(rawURL string) (uid, ctr, cmac string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", err
	}
	q := u.Query()
	uid = q.Get("uid")
	ctr = q.Get("ctr")
	cmac = q.Get("cmac")
	if uid == "" || ctr == "" || cmac == "" {
		return uid, ctr, cmac, &ValidationError{Reason: "missing uid/ctr/cmac parameters"}
	}
	return uid, ctr, cmac, nil
}

// VerifySDMMACDetailed verifies the CMAC from an SDM URL, returning the
// decoded counter and the CMAC this engine computed whether or not it
// matched, so callers can log a mismatch with both values.
//
// The MAC-covered span is reconstructed by template substitution: the exact
// query string the tag produced, with the cmac value blanked out, is
// "uid=<uid>&ctr=<ctr>&cmac=" — this mirrors how the tag itself builds the
// CMAC input when writing the URL on tap, so the validator never needs to
// know byte offsets inside the stored NDEF file.
func VerifySDMMACDetailed(rawURL string, sdmFileKey []byte) (match bool, counter uint32, computedCMAC string, err error) {
	uid, ctr, cmac, err := ParseSDMURL(rawURL)
	if err != nil {
		return false, 0, "", err
	}

	if len(uid) != sdmUIDLenASCII || len(ctr) != sdmCtrLenASCII || len(cmac) != sdmCmacLenASCII {
		return false, 0, "", &ValidationError{Reason: fmt.Sprintf(
			"invalid parameter lengths: uid=%d ctr=%d cmac=%d (want %d,%d,%d)",
			len(uid), len(ctr), len(cmac), sdmUIDLenASCII, sdmCtrLenASCII, sdmCmacLenASCII)}
	}

	uidBytes, err := hex.DecodeString(uid)
	if err != nil || len(uidBytes) != 7 {
		return false, 0, "", &ValidationError{Reason: "UID hex decode failed or wrong length"}
	}

	ctrBytesBE, err := hex.DecodeString(ctr)
	if err != nil || len(ctrBytesBE) != 3 {
		return false, 0, "", &ValidationError{Reason: "CTR hex decode failed or wrong length"}
	}
	ctrBytesLE := []byte{ctrBytesBE[2], ctrBytesBE[1], ctrBytesBE[0]}
	counter = uint32(ctrBytesBE[0])<<16 | uint32(ctrBytesBE[1])<<8 | uint32(ctrBytesBE[2])

	sessionKey, err := DeriveSDMSessionKey(sdmFileKey, uidBytes, ctrBytesLE)
	if err != nil {
		return false, counter, "", fmt.Errorf("session key derive: %w", err)
	}

	macInput := fmt.Sprintf("uid=%s&ctr=%s&cmac=", uid, ctr)
	fullCMAC, err := aesCMAC(sessionKey, []byte(macInput))
	if err != nil {
		return false, counter, "", fmt.Errorf("CMAC error: %w", err)
	}
	computed := truncateOddBytes(fullCMAC)
	computedCMAC = strings.ToUpper(hex.EncodeToString(computed))

	expectedBytes, err := hex.DecodeString(cmac)
	if err != nil || len(expectedBytes) != 8 {
		return false, counter, computedCMAC, &ValidationError{Reason: "CMAC decode error"}
	}

	match = bytes.Equal(computed, expectedBytes)
	return match, counter, computedCMAC, nil
}

// VerifySDMMAC is the boolean-only form of VerifySDMMACDetailed.
func VerifySDMMAC(rawURL string, sdmFileKey []byte) (bool, error) {
	match, _, _, err := VerifySDMMACDetailed(rawURL, sdmFileKey)
	return match, err
}

// GenerateSDMURL simulates what the tag itself computes on tap: given a UID
// and counter value, it derives the session key and CMAC the same way the
// tag's SDM engine does, and returns the resulting URL. Used by provisioning
// diagnostics and tests to produce tap vectors without physical hardware.
func GenerateSDMURL(baseURL string, uid []byte, counter uint32, sdmFileKey []byte) (string, error) {
	if len(uid) != 7 {
		return "", fmt.Errorf("UID must be 7 bytes, got %d", len(uid))
	}
	if len(sdmFileKey) != 16 {
		return "", fmt.Errorf("SDM file key must be 16 bytes, got %d", len(sdmFileKey))
	}
	if counter > 0xFFFFFF {
		return "", fmt.Errorf("counter must be <= 0xFFFFFF, got %d", counter)
	}

	uidHex := strings.ToUpper(hex.EncodeToString(uid))
	ctrBytesBE := []byte{byte((counter >> 16) & 0xFF), byte((counter >> 8) & 0xFF), byte(counter & 0xFF)}
	ctrHex := strings.ToUpper(hex.EncodeToString(ctrBytesBE))
	ctrBytesLE := []byte{ctrBytesBE[2], ctrBytesBE[1], ctrBytesBE[0]}

	sessionKey, err := DeriveSDMSessionKey(sdmFileKey, uid, ctrBytesLE)
	if err != nil {
		return "", fmt.Errorf("session key derive: %w", err)
	}

	macInput := fmt.Sprintf("uid=%s&ctr=%s&cmac=", uidHex, ctrHex)
	fullCMAC, err := aesCMAC(sessionKey, []byte(macInput))
	if err != nil {
		return "", fmt.Errorf("CMAC error: %w", err)
	}
	cmacHex := strings.ToUpper(hex.EncodeToString(truncateOddBytes(fullCMAC)))

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	q := parsedURL.Query()
	q.Set("uid", uidHex)
	q.Set("ctr", ctrHex)
	q.Set("cmac", cmacHex)
	parsedURL.RawQuery = q.Encode()

	return parsedURL.String(), nil
}
