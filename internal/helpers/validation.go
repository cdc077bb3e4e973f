package helpers

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ValidateAddress checks if an address is valid
func ValidateAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("invalid address format: %s", address)
	}

	addr := common.HexToAddress(address)

	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}

	return addr, nil
}

// ValidatePrivateKey validates and returns the private key
func ValidatePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	if privateKeyHex == "" {
		return nil, common.Address{}, fmt.Errorf("private key is empty")
	}

	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	// 64 hex chars = 32 bytes
	if len(privateKeyHex) != 64 {
		return nil, common.Address{}, fmt.Errorf("invalid private key length")
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}

	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, common.Address{}, fmt.Errorf("invalid public key type")
	}

	address := crypto.PubkeyToAddress(*publicKeyECDSA)

	return privateKey, address, nil
}

// ValidateTokenPair ensures tokens are different and not zero
func ValidateTokenPair(token0, token1 common.Address) error {
	if token0 == (common.Address{}) || token1 == (common.Address{}) {
		return fmt.Errorf("token addresses cannot be zero")
	}

	if token0 == token1 {
		return fmt.Errorf("token addresses must be different")
	}

	return nil
}

// ValidateGasPrice ensures gas price is within reasonable bounds
func ValidateGasPrice(gasPrice *big.Int, maxGasPrice *big.Int) error {
	if gasPrice == nil {
		return fmt.Errorf("gas price is nil")
	}

	if gasPrice.Sign() <= 0 {
		return fmt.Errorf("gas price must be positive")
	}

	if maxGasPrice != nil && gasPrice.Cmp(maxGasPrice) > 0 {
		return fmt.Errorf("gas price exceeds maximum: %s > %s", gasPrice.String(), maxGasPrice.String())
	}

	return nil
}
