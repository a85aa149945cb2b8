package payout

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known Solana program addresses.
const (
	tokenProgramAddr           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	associatedTokenProgramAddr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	systemProgramAddr          = "11111111111111111111111111111111"
)

const pdaMarker = "ProgramDerivedAddress"

func mustDecode32(addr string) [32]byte {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 32 {
		panic(fmt.Sprintf("invalid program address %q", addr))
	}
	var key [32]byte
	copy(key[:], decoded)
	return key
}

var (
	tokenProgramKey           = mustDecode32(tokenProgramAddr)
	associatedTokenProgramKey = mustDecode32(associatedTokenProgramAddr)
	systemProgramKey          = mustDecode32(systemProgramAddr)
)

// isOnCurve reports whether the bytes decode to a valid ed25519 point.
// Program-derived addresses must NOT be on the curve, so no private key can
// ever sign for them.
func isOnCurve(key [32]byte) bool {
	_, err := new(edwards25519.Point).SetBytes(key[:])
	return err == nil
}

// findProgramAddress searches bump seeds from 255 downward for the first
// off-curve derivation, mirroring the chain's own PDA rules.
func findProgramAddress(seeds [][]byte, programID [32]byte) ([32]byte, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(programID[:])
		h.Write([]byte(pdaMarker))

		var candidate [32]byte
		copy(candidate[:], h.Sum(nil))
		if !isOnCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	return [32]byte{}, 0, fmt.Errorf("no off-curve program address for the given seeds")
}

// deriveAssociatedTokenAddress computes the canonical token account for an
// owner and mint.
func deriveAssociatedTokenAddress(owner, mint [32]byte) ([32]byte, error) {
	seeds := [][]byte{owner[:], tokenProgramKey[:], mint[:]}
	addr, _, err := findProgramAddress(seeds, associatedTokenProgramKey)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to derive token account: %w", err)
	}
	return addr, nil
}

// appendCompactU16 appends the shortvec length encoding used throughout the
// Solana wire format.
func appendCompactU16(dst []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(dst, byte(v))
		}
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

// transferMessage is the legacy-format message for a single custodial reward
// payout: create the destination token account if missing, then transfer.
//
// Account table layout (signers first, then writable, then readonly):
//
//	0 custodial authority  signer, writable, fee payer
//	1 source token account writable
//	2 dest token account   writable
//	3 destination owner    readonly
//	4 reward mint          readonly
//	5 system program       readonly
//	6 token program        readonly
//	7 associated token pgm readonly
func buildTransferMessage(custodial, sourceATA, destATA, destOwner, mint, recentBlockhash [32]byte, amount uint64) []byte {
	accounts := [][32]byte{
		custodial, sourceATA, destATA,
		destOwner, mint, systemProgramKey, tokenProgramKey, associatedTokenProgramKey,
	}

	var msg []byte
	// Header: 1 required signature, 0 readonly signed, 5 readonly unsigned.
	msg = append(msg, 1, 0, 5)

	msg = appendCompactU16(msg, len(accounts))
	for _, account := range accounts {
		msg = append(msg, account[:]...)
	}
	msg = append(msg, recentBlockhash[:]...)

	msg = appendCompactU16(msg, 2)

	// CreateIdempotent on the associated token program: a no-op when the
	// destination account already exists.
	msg = append(msg, 7)
	msg = appendCompactU16(msg, 6)
	msg = append(msg, 0, 2, 3, 4, 5, 6)
	msg = appendCompactU16(msg, 1)
	msg = append(msg, 1)

	// SPL token Transfer.
	transferData := make([]byte, 9)
	transferData[0] = 3
	binary.LittleEndian.PutUint64(transferData[1:], amount)
	msg = append(msg, 6)
	msg = appendCompactU16(msg, 3)
	msg = append(msg, 1, 2, 0)
	msg = appendCompactU16(msg, len(transferData))
	msg = append(msg, transferData...)

	return msg
}
