// Package ton checks crypto payout destinations against TON address rules.
package ton

import (
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

// ValidateAddress accepts user-friendly (base64, checksummed) and raw
// "workchain:hex" TON addresses. Testnet-only addresses are rejected since
// payouts go out on mainnet.
func ValidateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("empty TON address")
	}

	var err error
	if strings.Contains(s, ":") {
		_, err = address.ParseRawAddr(s)
	} else {
		_, err = address.ParseAddr(s)
	}
	if err != nil {
		return fmt.Errorf("not a TON address: %w", err)
	}
	if IsTestnet(s) {
		return fmt.Errorf("testnet-only TON address")
	}
	return nil
}

// IsTestnet reports whether a user-friendly address carries the testnet flag.
func IsTestnet(s string) bool {
	addr, err := address.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return addr.IsTestnetOnly()
}
