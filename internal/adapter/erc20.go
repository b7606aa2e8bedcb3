package adapter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)")
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}
	],"name":"Transfer","type":"event"}
]`

var (
	erc20Once sync.Once
	erc20ABI  abi.ABI
	erc20Err  error
)

// ERC20ABI returns the parsed ERC-20 subset used by the inspector
func ERC20ABI() (abi.ABI, error) {
	erc20Once.Do(func() {
		erc20ABI, erc20Err = abi.JSON(strings.NewReader(erc20ABIJSON))
		if erc20Err != nil {
			erc20Err = fmt.Errorf("failed to parse ERC20 ABI: %w", erc20Err)
		}
	})
	return erc20ABI, erc20Err
}

// MustERC20ABI is ERC20ABI for package-level initialisation paths
func MustERC20ABI() abi.ABI {
	parsed, err := ERC20ABI()
	if err != nil {
		panic(err)
	}
	return parsed
}
