package adapter

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	addressPattern = regexp.MustCompile("^0x[a-fA-F0-9]{40}$")
	bareHexPattern = regexp.MustCompile("^[a-fA-F0-9]{40}$")
)

// NormalizeAddress trims surrounding space and adds the 0x prefix to a bare
// 40 character hex address. Anything else is returned trimmed but unchanged,
// so ValidateAddress still decides.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0X") {
		return "0x" + address[2:]
	}
	if bareHexPattern.MatchString(address) {
		return "0x" + address
	}
	return address
}

// ValidateAddress checks that address is 0x followed by 40 hex characters.
// Mixed-case input must carry a valid EIP-55 checksum; all-lower and
// all-upper input is accepted as is.
func ValidateAddress(address string) bool {
	if !addressPattern.MatchString(address) {
		return false
	}

	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}

	return common.HexToAddress(address).Hex() == address
}
