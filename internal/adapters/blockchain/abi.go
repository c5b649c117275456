package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// EIP-1967 storage slots: bytes32(uint256(keccak256("eip1967.proxy.<name>")) - 1)
	ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	AdminSlot          = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
)

// upgradeABI covers both OpenZeppelin v4 and v5 ProxyAdmin and transparent
// proxy admin functions
const upgradeABI = `[
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"upgradeAndCall","stateMutability":"payable","inputs":[{"name":"proxy","type":"address"},{"name":"implementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"upgrade","stateMutability":"nonpayable","inputs":[{"name":"proxy","type":"address"},{"name":"implementation","type":"address"}],"outputs":[]},
  {"type":"function","name":"upgradeToAndCall","stateMutability":"payable","inputs":[{"name":"newImplementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"upgradeTo","stateMutability":"nonpayable","inputs":[{"name":"newImplementation","type":"address"}],"outputs":[]}
]`

var upgradeContract = mustParseABI(upgradeABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// upgradeCalls returns candidate calldata for switching the implementation,
// newest ABI first. viaProxyAdmin selects the ProxyAdmin contract functions
// over the ones the proxy exposes to an EOA admin.
func upgradeCalls(viaProxyAdmin bool, proxy, implementation common.Address) ([][]byte, error) {
	var calls [][]byte
	pack := func(method string, args ...any) error {
		data, err := upgradeContract.Pack(method, args...)
		if err != nil {
			return err
		}
		calls = append(calls, data)
		return nil
	}

	var err error
	if viaProxyAdmin {
		if err = pack("upgradeAndCall", proxy, implementation, []byte{}); err == nil {
			err = pack("upgrade", proxy, implementation)
		}
	} else {
		if err = pack("upgradeToAndCall", implementation, []byte{}); err == nil {
			err = pack("upgradeTo", implementation)
		}
	}
	return calls, err
}
