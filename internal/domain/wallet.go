package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// WalletAddress is a validated Solana account address. Construct it through
// ParseWalletAddress at the boundary; internal code never re-inspects raw
// strings.
type WalletAddress struct {
	raw   string
	bytes [32]byte
}

// ParseWalletAddress validates a base58-encoded 32-byte public key.
func ParseWalletAddress(s string) (WalletAddress, error) {
	if s == "" {
		return WalletAddress{}, NewInvalidArgument("wallet", "address is empty")
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return WalletAddress{}, NewInvalidArgument("wallet", fmt.Sprintf("not base58: %v", err))
	}
	if len(decoded) != 32 {
		return WalletAddress{}, NewInvalidArgument("wallet", fmt.Sprintf("decoded to %d bytes, want 32", len(decoded)))
	}

	var addr WalletAddress
	addr.raw = s
	copy(addr.bytes[:], decoded)
	return addr, nil
}

// MustWalletAddress panics on an invalid address. For tests and config
// bootstrapping only.
func MustWalletAddress(s string) WalletAddress {
	addr, err := ParseWalletAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a WalletAddress) String() string { return a.raw }

func (a WalletAddress) Bytes() [32]byte { return a.bytes }

// IsZero reports whether the address was never parsed.
func (a WalletAddress) IsZero() bool { return a.raw == "" }

// Equal compares by decoded key, so differing base58 spellings of the same
// key compare equal.
func (a WalletAddress) Equal(b WalletAddress) bool { return a.bytes == b.bytes }
