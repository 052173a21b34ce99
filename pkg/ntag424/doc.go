/*
Package ntag424 provides a library for communicating with NXP NTAG 424 DNA
tags over PC/SC, covering:

  - Cryptographic primitives (AES-CBC/ECB, AES-CMAC, DESFire session key
    derivation, ISO/IEC 9797-1 Method 2 padding)
  - EV2First authentication and session management (Session.Send, dispatching
    by CommMode: Plain, MAC, Full)
  - File settings read/modify (GetFileSettings, ChangeFileSettings)
  - Read operations (ISO READ BINARY, DESFire ReadData, NDEF reads)
  - Key management (loading, changing keys with CRC32 versioning)
  - Secure Dynamic Messaging (SDM) configuration, NDEF/Type-4 file building,
    and URL CMAC verification
  - PC/SC card connection wrapper

# Access Rights Encoding

Per the DESFire specification, the 16-bit access rights value is organized
(MSB→LSB) as:

	[Read | Write | ReadWrite | ChangeAccessRights]
	bits 15-12: Read key
	bits 11-8:  Write key
	bits 7-4:   ReadWrite key
	bits 3-0:   ChangeAccessRights key

These are stored little-endian in the GetFileSettings response at byte
offsets 2-3:

	Byte offset 2 (AR1) = LSB: [ReadWrite nibble | ChangeAccessRights nibble]
	Byte offset 3 (AR2) = MSB: [Read nibble      | Write nibble]

Nibble values:

	0x0-0xD = key slot number (authenticate with that key to perform operation)
	0xE     = free (no authentication needed)
	0xF     = denied (operation never permitted)

# File Map

NTAG 424 DNA tags have three application files after SelectNDEFApp
(AID D2760000850101):

File 1 (ID 0xE103) — Capability Container (CC)

	Always readable via plain ISO READ BINARY (INS 0xB0).

File 2 (ID 0xE104) — NDEF File

	Holds the Type-4 Tag NDEF message this engine builds with
	BuildSDMNDEF. When SDM is enabled, the tag dynamically rewrites the
	UID/counter/CMAC placeholders into the URL on every tap.

File 3 (ID 0xE105) — Proprietary Data

	Usually requires authentication to read.

# Communication Modes

Three modes (bits 1:0 of a file's FileOption byte), modeled as CommMode:

	CommPlain  No security. Data in cleartext.
	CommMAC    Integrity only. Response carries an 8-byte truncated CMAC.
	CommFull   Confidentiality + integrity. Data encrypted under the
	           session's Kenc, response MACed under Kmac. Requires an
	           open EV2 session.

A file's actual comm mode for a given operation depends on both the
FileOption comm mode bits and the access rights: if Read=0xE (free), the tag
serves data in plain regardless of FileOption.

# AuthenticateEV2First (cmd 0x71 + 0xAF)

Two-phase handshake:

	Phase 1: 90 71 00 00 02 <keyNo> 00 00  ->  <EncRndB(16)> | SW=91AF
	Phase 2: decrypt RndB, generate RndA, send 90 AF 00 00 20
	         <Enc(RndA||RotateLeft(RndB))(32)> 00  ->  <Enc(TI||RotateLeft(RndA))(32)> | SW=9100

Session derivation:

	SV1 = A5 5A 00 01 00 80 || rndA[0:2] || (rndA[2:8] XOR rndB[0:6]) || rndB[6:16] || rndA[8:16]
	SV2 = 5A A5 00 01 00 80 || (same fill)
	Kenc = AES-CMAC(key, SV1)
	Kmac = AES-CMAC(key, SV2)

CRITICAL: SelectNDEFApp or SelectFile invalidates the session. Always select
before authenticating, or re-authenticate after selecting.

# Status Words

ISO 7816: 9000 success, 6982 security not satisfied, 6A82 file not found,
6A86 wrong P1/P2, 6C00 wrong Le (correct Le in SW2), 6700 wrong length.

DESFire: 9100 success, 91AF additional frame, 917E length error, 91AE auth
error, 91AD auth delay, 911E integrity error, 919D permission denied, 919E
parameter error, 911C boundary error or illegal command (overloaded by NXP —
see ProtocolErrorKind), 9140 no changes, 91CA command aborted.

Session/crypto errors surface as *IntegrityError (response CMAC/padding
failed) rather than *ProtocolError, since the tag's own status word said
success in that case — the cryptographic envelope is what didn't check out.
*/
package ntag424
