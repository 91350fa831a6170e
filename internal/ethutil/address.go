package ethutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyAddress   = errors.New("address missing")
	ErrInvalidAddress = errors.New("invalid hex address")
)

// ParseAddress parses a single 0x-prefixed hex address.
//
// Mixed-case input must carry a valid EIP-55 checksum; all-lower and
// all-upper input is accepted as-is. The zero address is rejected.
func ParseAddress(raw string) (common.Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Address{}, ErrEmptyAddress
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("%w %q: missing 0x prefix", ErrInvalidAddress, s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w %q", ErrInvalidAddress, s)
	}

	addr := common.HexToAddress(s)
	if (addr == common.Address{}) {
		return common.Address{}, fmt.Errorf("%w %q: zero address", ErrInvalidAddress, s)
	}

	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != "0x"+body {
		return common.Address{}, fmt.Errorf("%w %q: checksum mismatch (want %s)", ErrInvalidAddress, s, addr.Hex())
	}
	return addr, nil
}
