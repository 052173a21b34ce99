package ntag424

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Session holds the encryption and MAC keys for an authenticated EV2 session,
// plus the command counter and transaction identifier that frame every
// secure-messaging command sent after authentication.
type Session struct {
	kenc   [16]byte
	kmac   [16]byte
	ti     [4]byte
	cmdCtr uint16
	keyNo  byte
	closed bool
}

// KeyNo reports the key slot this session authenticated against.
func (s *Session) KeyNo() byte { return s.keyNo }

// CmdCtr reports the current command counter value.
func (s *Session) CmdCtr() uint16 { return s.cmdCtr }

// TI returns the 4-byte transaction identifier issued by the tag at auth time.
func (s *Session) TI() [4]byte { return s.ti }

// Closed reports whether the session has been torn down, either explicitly
// or automatically after a protocol/integrity error.
func (s *Session) Closed() bool { return s.closed }

// Close marks the session unusable. Further Send calls return
// *SessionClosedError.
func (s *Session) Close() { s.closed = true }

// OpenSession performs EV2First authentication against keyNo, establishing
// Kenc/Kmac/TI for subsequent secure messaging. This is a two-phase
// challenge-response handshake: the tag's RndB comes back
// encrypted under the target key, the host folds in its own RndA and
// rotates RndB back, and both sides derive session keys from SV1/SV2 built
// out of RndA/RndB.
//
// Environment variables for testing:
//   - NTAG_RNDA: 32-character hex string to override random RndA generation,
//     so handshake vectors can be reproduced deterministically.
func OpenSession(card Card, key []byte, keyNo byte) (*Session, error) {
	apdu1 := []byte{0x90, cmdAuthenticateEV2First, 0x00, 0x00, 0x02, keyNo, 0x00, 0x00}
	resp1, sw, err := Transmit(card, apdu1)
	if err != nil {
		return nil, err
	}
	if sw != SWMoreData || len(resp1) != 16 {
		return nil, classifyProtocolError(cmdAuthenticateEV2First, sw, false)
	}

	iv0 := make([]byte, 16)
	rndB, err := aesCBCDecrypt(key, iv0, resp1)
	if err != nil {
		return nil, &IntegrityError{Reason: fmt.Sprintf("decrypt RndB: %v", err)}
	}

	rndA := make([]byte, 16)
	if rndAHex := os.Getenv("NTAG_RNDA"); len(rndAHex) == 32 {
		if b, decErr := hex.DecodeString(rndAHex); decErr == nil && len(b) == 16 {
			copy(rndA, b)
		} else if _, rerr := io.ReadFull(rand.Reader, rndA); rerr != nil {
			return nil, rerr
		}
	} else if _, rerr := io.ReadFull(rand.Reader, rndA); rerr != nil {
		return nil, rerr
	}

	rndBRot := rotateLeft1(rndB)
	rndAB := append(append([]byte{}, rndA...), rndBRot...)
	rndABEnc, err := aesCBCEncrypt(key, iv0, rndAB)
	if err != nil {
		return nil, err
	}

	apdu2 := make([]byte, 0, 5+len(rndABEnc)+1)
	apdu2 = append(apdu2, 0x90, cmdAdditionalFrame, 0x00, 0x00, 0x20)
	apdu2 = append(apdu2, rndABEnc...)
	apdu2 = append(apdu2, 0x00)
	resp2, sw, err := Transmit(card, apdu2)
	if err != nil {
		return nil, err
	}
	if sw != SWDESFireOK || len(resp2) != 32 {
		return nil, classifyProtocolError(cmdAdditionalFrame, sw, false)
	}

	dec, err := aesCBCDecrypt(key, iv0, resp2)
	if err != nil {
		return nil, &IntegrityError{Reason: fmt.Sprintf("decrypt TI/RndA: %v", err)}
	}

	ti := dec[:4]
	rndARot := dec[4:20]
	rndACheck := rotateRight1(rndARot)
	if !bytes.Equal(rndACheck, rndA) {
		return nil, &IntegrityError{Reason: "RndA round-trip check failed"}
	}

	kenc, kmac, err := deriveSessionKeys(key, rndA, rndB)
	if err != nil {
		return nil, err
	}

	slog.Debug("session keys derived",
		"rndA", strings.ToUpper(hex.EncodeToString(rndA)),
		"rndB", strings.ToUpper(hex.EncodeToString(rndB)),
		"ti", strings.ToUpper(hex.EncodeToString(ti)),
		"key_no", keyNo)

	s := &Session{keyNo: keyNo}
	copy(s.kenc[:], kenc)
	copy(s.kmac[:], kmac)
	copy(s.ti[:], ti)
	return s, nil
}

// OpenSessionWithFallback attempts EV2First authentication with a sequence
// of key/slot combinations, useful when a tag's provisioning state (and
// hence which key currently occupies slot 0) is not known up front: the
// provided key at keyNo, then at altKeyNo, then keyNo 0 with the provided
// key, then keyNo 0 with the factory all-zero key.
func OpenSessionWithFallback(card Card, key []byte, keyNo, altKeyNo byte) (sess *Session, usedKey []byte, usedKeyNo byte, err error) {
	zeroKey := make([]byte, 16)
	type attempt struct {
		key   []byte
		keyNo byte
		label string
	}
	attempts := []attempt{{key: key, keyNo: keyNo, label: fmt.Sprintf("keyno %d (provided)", keyNo)}}
	if altKeyNo != keyNo {
		attempts = append(attempts, attempt{key: key, keyNo: altKeyNo, label: fmt.Sprintf("keyno %d (alt)", altKeyNo)})
	}
	if keyNo != 0 && altKeyNo != 0 {
		attempts = append(attempts, attempt{key: key, keyNo: 0, label: "keyno 0 (same key)"})
	}
	if !isAllZero(key) {
		attempts = append(attempts, attempt{key: zeroKey, keyNo: 0, label: "keyno 0 (factory fallback)"})
	}

	var lastErr error
	for i, a := range attempts {
		s, openErr := OpenSession(card, a.key, a.keyNo)
		if openErr == nil {
			slog.Info("authenticated", "method", a.label)
			return s, a.key, a.keyNo, nil
		}
		if i > 0 {
			slog.Warn("auth attempt failed", "method", a.label, "error", openErr)
		}
		lastErr = openErr
	}
	return nil, nil, 0, lastErr
}

// deriveSessionKeys computes SesAuthENCKey/SesAuthMACKey from the
// authentication key and the two challenges, per the SV1/SV2 construction
// of NXP AN12196 §9.3. Both the host (here) and the tag derive
// these independently from the same inputs; there is no key transport.
func deriveSessionKeys(key, rndA, rndB []byte) (kenc, kmac []byte, err error) {
	sv1 := make([]byte, 32)
	sv2 := make([]byte, 32)
	copy(sv1, []byte{0xA5, 0x5A, 0x00, 0x01, 0x00, 0x80})
	copy(sv2, []byte{0x5A, 0xA5, 0x00, 0x01, 0x00, 0x80})
	copy(sv1[6:8], rndA[:2])
	copy(sv2[6:8], rndA[:2])
	for i := 0; i < 6; i++ {
		sv1[8+i] = rndA[2+i] ^ rndB[i]
		sv2[8+i] = rndA[2+i] ^ rndB[i]
	}
	copy(sv1[14:24], rndB[6:16])
	copy(sv2[14:24], rndB[6:16])
	copy(sv1[24:32], rndA[8:16])
	copy(sv2[24:32], rndA[8:16])

	kenc, err = aesCMAC(key, sv1)
	if err != nil {
		return nil, nil, err
	}
	kmac, err = aesCMAC(key, sv2)
	if err != nil {
		return nil, nil, err
	}
	return kenc, kmac, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Send transmits an authenticated command framed under the given CommMode
// and returns the (decrypted, for Full) response data. boundary tells the
// classifier whether SW=0x911C on this command means "offset+length past
// end of file" (true) rather than "command disabled" (false).
//
// Any protocol or integrity error encountered here closes the session;
// subsequent Send calls return *SessionClosedError without touching the
// card.
func (s *Session) Send(card Card, mode CommMode, cmd byte, header, data []byte, boundary bool) ([]byte, error) {
	if s.closed {
		return nil, &SessionClosedError{}
	}
	out, err := s.dispatch(card, mode, cmd, header, data, boundary)
	if err != nil {
		s.closed = true
	}
	return out, err
}

func (s *Session) dispatch(card Card, mode CommMode, cmd byte, header, data []byte, boundary bool) ([]byte, error) {
	switch mode {
	case CommPlain:
		return s.sendPlain(card, cmd, header, data, boundary)
	case CommMAC:
		return s.sendMAC(card, cmd, header, data, boundary)
	case CommFull:
		return s.sendFull(card, cmd, header, data, boundary)
	default:
		return nil, fmt.Errorf("unknown comm mode %v", mode)
	}
}

// sendPlain sends header||data in cleartext with no MAC. The command
// counter still advances: it tracks every command issued inside a session
// regardless of CommMode, not just Full-mode ones.
func (s *Session) sendPlain(card Card, cmd byte, header, data []byte, boundary bool) ([]byte, error) {
	payload := append(append([]byte{}, header...), data...)
	if len(payload) > 255 {
		return nil, fmt.Errorf("plain APDU data too long")
	}
	apdu := make([]byte, 0, 6+len(payload))
	apdu = append(apdu, 0x90, cmd, 0x00, 0x00, byte(len(payload)))
	apdu = append(apdu, payload...)
	apdu = append(apdu, 0x00)

	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, classifyProtocolError(cmd, sw, boundary)
	}
	s.cmdCtr++
	return resp, nil
}

// sendMAC sends header||data in cleartext followed by an 8-byte truncated
// CMAC over Cmd||CmdCtr||TI||header||data, and verifies the response's
// trailing CMAC the same way over SW||CmdCtr+1||TI||respData.
func (s *Session) sendMAC(card Card, cmd byte, header, data []byte, boundary bool) ([]byte, error) {
	macInput := make([]byte, 0, 8+len(header)+len(data))
	macInput = append(macInput, cmd)
	macInput = append(macInput, byte(s.cmdCtr&0xFF), byte((s.cmdCtr>>8)&0xFF))
	macInput = append(macInput, s.ti[:]...)
	macInput = append(macInput, header...)
	macInput = append(macInput, data...)

	cmac, err := aesCMAC(s.kmac[:], macInput)
	if err != nil {
		return nil, err
	}
	mact := truncateOddBytes(cmac)

	payload := make([]byte, 0, len(header)+len(data)+len(mact))
	payload = append(payload, header...)
	payload = append(payload, data...)
	payload = append(payload, mact...)
	if len(payload) > 255 {
		return nil, fmt.Errorf("MAC-mode APDU data too long")
	}
	apdu := make([]byte, 0, 6+len(payload))
	apdu = append(apdu, 0x90, cmd, 0x00, 0x00, byte(len(payload)))
	apdu = append(apdu, payload...)
	apdu = append(apdu, 0x00)

	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if sw != SWDESFireOK {
		return nil, classifyProtocolError(cmd, sw, boundary)
	}
	if len(resp) < 8 {
		return nil, &IntegrityError{Reason: fmt.Sprintf("MAC-mode response too short (len=%d)", len(resp))}
	}
	respLen := len(resp) - 8
	respData := resp[:respLen]
	respMac := resp[respLen:]

	cmdCtr1 := s.cmdCtr + 1
	macIn2 := make([]byte, 0, 8+respLen)
	macIn2 = append(macIn2, byte(sw&0xFF))
	macIn2 = append(macIn2, byte(cmdCtr1&0xFF), byte((cmdCtr1>>8)&0xFF))
	macIn2 = append(macIn2, s.ti[:]...)
	macIn2 = append(macIn2, respData...)
	cmac2, err := aesCMAC(s.kmac[:], macIn2)
	if err != nil {
		return nil, err
	}
	mact2 := truncateOddBytes(cmac2)
	if !bytes.Equal(respMac, mact2) {
		return nil, &IntegrityError{Reason: "response CMAC mismatch"}
	}

	s.cmdCtr = cmdCtr1
	return respData, nil
}

// sendFull encrypts data under a per-command IV derived from Kenc/TI/CmdCtr,
// appends a CMAC over Cmd||CmdCtr||TI||header||EncData, and on response
// verifies the reply CMAC before decrypting the reply data. This is the
// session engine's only mode that uses CBC encryption of the payload.
func (s *Session) sendFull(card Card, cmd byte, header, data []byte, boundary bool) ([]byte, error) {
	ivcIn := make([]byte, 16)
	ivcIn[0] = 0xA5
	ivcIn[1] = 0x5A
	copy(ivcIn[2:6], s.ti[:])
	ivcIn[6] = byte(s.cmdCtr & 0xFF)
	ivcIn[7] = byte((s.cmdCtr >> 8) & 0xFF)
	ivc, err := aesECBEncrypt(s.kenc[:], ivcIn)
	if err != nil {
		return nil, err
	}

	var encData []byte
	if len(data) > 0 {
		padded := padISO9797M2(data)
		encData, err = aesCBCEncrypt(s.kenc[:], ivc, padded)
		if err != nil {
			return nil, err
		}
	} else {
		encData = []byte{}
	}

	macInput := make([]byte, 0, 8+len(header)+len(encData))
	macInput = append(macInput, cmd)
	macInput = append(macInput, byte(s.cmdCtr&0xFF), byte((s.cmdCtr>>8)&0xFF))
	macInput = append(macInput, s.ti[:]...)
	macInput = append(macInput, header...)
	macInput = append(macInput, encData...)
	cmac, err := aesCMAC(s.kmac[:], macInput)
	if err != nil {
		return nil, err
	}
	mact := truncateOddBytes(cmac)

	dataLen := len(header) + len(encData) + len(mact)
	if dataLen > 255 {
		return nil, fmt.Errorf("full-mode APDU data too long")
	}
	apdu := make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, cmd, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, header...)
	apdu = append(apdu, encData...)
	apdu = append(apdu, mact...)
	apdu = append(apdu, 0x00)

	slog.Debug("secure messaging",
		"cmd", fmt.Sprintf("0x%02X", cmd),
		"apdu_len", len(apdu))

	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if sw != SWDESFireOK {
		return nil, classifyProtocolError(cmd, sw, boundary)
	}
	if len(resp) < 8 {
		return nil, &IntegrityError{Reason: fmt.Sprintf("full-mode response too short (len=%d, SW=%04X)", len(resp), sw)}
	}

	respEncLen := len(resp) - 8
	respEnc := resp[:respEncLen]
	respMac := resp[respEncLen:]

	cmdCtr1 := s.cmdCtr + 1
	ivrIn := make([]byte, 16)
	ivrIn[0] = 0x5A
	ivrIn[1] = 0xA5
	copy(ivrIn[2:6], s.ti[:])
	ivrIn[6] = byte(cmdCtr1 & 0xFF)
	ivrIn[7] = byte((cmdCtr1 >> 8) & 0xFF)
	ivr, err := aesECBEncrypt(s.kenc[:], ivrIn)
	if err != nil {
		return nil, err
	}

	macIn2 := make([]byte, 0, 8+respEncLen)
	macIn2 = append(macIn2, byte(sw&0xFF))
	macIn2 = append(macIn2, byte(cmdCtr1&0xFF), byte((cmdCtr1>>8)&0xFF))
	macIn2 = append(macIn2, s.ti[:]...)
	macIn2 = append(macIn2, respEnc...)
	cmac2, err := aesCMAC(s.kmac[:], macIn2)
	if err != nil {
		return nil, err
	}
	mact2 := truncateOddBytes(cmac2)
	if !bytes.Equal(respMac, mact2) {
		return nil, &IntegrityError{Reason: "response CMAC mismatch"}
	}

	out := []byte{}
	if respEncLen > 0 {
		dec, err := aesCBCDecrypt(s.kenc[:], ivr, respEnc)
		if err != nil {
			return nil, err
		}
		out, err = unpadISO9797M2(dec)
		if err != nil {
			return nil, &IntegrityError{Reason: fmt.Sprintf("response padding: %v", err)}
		}
	}

	s.cmdCtr = cmdCtr1
	return out, nil
}

// WriteDataChunked writes data to fileNo starting at offset, splitting it
// into maxChunkSize-sized WriteData commands. Each chunk is a complete,
// independently-MACed/encrypted WriteData APDU with its own Offset field
// and its own command-counter increment — this is NOT ISO 7816-4 command
// chaining, it's repeated whole commands at increasing offsets.
func (s *Session) WriteDataChunked(card Card, fileNo byte, offset uint32, data []byte, mode CommMode) error {
	for pos := 0; pos < len(data); pos += maxChunkSize {
		end := pos + maxChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunkOffset := offset + uint32(pos)
		header := []byte{
			fileNo,
			byte(chunkOffset & 0xFF), byte((chunkOffset >> 8) & 0xFF), byte((chunkOffset >> 16) & 0xFF),
		}
		chunkLen := end - pos
		header = append(header,
			byte(chunkLen&0xFF), byte((chunkLen>>8)&0xFF), byte((chunkLen>>16)&0xFF))
		if _, err := s.Send(card, mode, cmdWriteData, header, data[pos:end], false); err != nil {
			return fmt.Errorf("write chunk at offset %d: %w", chunkOffset, err)
		}
	}
	return nil
}
