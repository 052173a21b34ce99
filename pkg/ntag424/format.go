package ntag424

// FormatPICC issues DESFire FormatPICC (cmd 0xFC): an empty header, empty
// data, Full-mode command that erases all application data and restores
// factory file layout while leaving key material untouched. The caller must
// already hold a session authenticated against key slot 0.
//
// Some tags have 0xFC permanently disabled at manufacturing; that surfaces
// as SW=0x911C, classified here as KindIllegalCommand since this command
// has no boundary-error meaning to disambiguate against.
func FormatPICC(card Card, sess *Session) error {
	_, err := sess.Send(card, CommFull, cmdFormatPICC, nil, nil, false)
	return err
}
