package ntag424

// AuthSlotResult holds the outcome of one authentication attempt against a
// key slot, for diagnostics tooling.
type AuthSlotResult struct {
	Slot    byte
	Success bool
	Err     error
}

// DiagnoseAuthSlots attempts EV2First authentication with key against each
// slot in slots, returning one AuthSlotResult per slot. The caller is
// responsible for selecting the NDEF application once before calling this;
// DiagnoseAuthSlots does not re-select between attempts.
func DiagnoseAuthSlots(card Card, key []byte, slots []byte) []AuthSlotResult {
	results := make([]AuthSlotResult, 0, len(slots))
	for _, slot := range slots {
		_, err := OpenSession(card, key, slot)
		results = append(results, AuthSlotResult{Slot: slot, Success: err == nil, Err: err})
	}
	return results
}
