package ntag424

import "fmt"

// Card abstracts card transmit behavior for real PC/SC cards and test doubles.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Transmit sends an APDU to the card and extracts the status word.
// Returns (response_data, status_word, error). The response data does NOT
// include the trailing SW bytes. Any failure surfacing from the Card itself
// (reader gone, USB disconnect, timeout) is wrapped as a TransportError so
// callers can distinguish "the tag said no" from "the reader is gone".
func Transmit(card Card, apdu []byte) ([]byte, uint16, error) {
	resp, err := card.Transmit(apdu)
	if err != nil {
		return nil, 0, &TransportError{Op: "transmit", Err: err}
	}
	if len(resp) < 2 {
		return nil, 0, &TransportError{Op: "transmit", Err: fmt.Errorf("short response: %d bytes", len(resp))}
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// GetUID retrieves the card UID via the ISO 7816 GET DATA command (FF CA 00 00).
// Tries Le=0x00 (wildcard) then Le=0x04 (specific length), since readers vary
// in which they accept.
func GetUID(card Card) ([]byte, error) {
	for _, le := range []byte{0x00, 0x04} {
		apdu := []byte{0xFF, 0xCA, 0x00, 0x00, le}
		data, sw, err := Transmit(card, apdu)
		if err == nil && SwOK(sw) && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("UID not available via GET DATA")
}
