package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// TxSigner signs transactions for the executing account on one chain.
type TxSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewTxSigner binds key to chainID.
func NewTxSigner(key *ecdsa.PrivateKey, chainID *big.Int) *TxSigner {
	return &TxSigner{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Address returns the account address.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// SignTx signs tx. The result is immutable and may be broadcast on any
// number of channels.
func (s *TxSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	return signed, nil
}

// RelaySigner signs private relay requests with a dedicated identity key.
// The identity carries reputation only; it never holds funds.
type RelaySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewRelaySigner creates a RelaySigner.
func NewRelaySigner(key *ecdsa.PrivateKey) *RelaySigner {
	return &RelaySigner{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the relay identity address.
func (s *RelaySigner) Address() common.Address {
	return s.address
}

// SignPayload returns the signature header value for a JSON-RPC body:
// "<address>:<signature>", where the signature is an EIP-191 personal
// signature over the hex-encoded keccak256 of body.
func (s *RelaySigner) SignPayload(body []byte) (string, error) {
	digest := ethcrypto.Keccak256Hash(body).Hex()
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(digest)), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	return s.address.Hex() + ":" + hexutil.Encode(sig), nil
}

// VerifyPayload checks a header produced by SignPayload against body and
// returns the signing address.
func VerifyPayload(body []byte, header string) (common.Address, error) {
	addrHex, sigHex, ok := strings.Cut(header, ":")
	if !ok || addrHex == "" || sigHex == "" {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature header")
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	digest := ethcrypto.Keccak256Hash(body).Hex()
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(digest)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	got := ethcrypto.PubkeyToAddress(*pub)
	if got != common.HexToAddress(addrHex) {
		return common.Address{}, fmt.Errorf("crypto/signer: signature address %s does not match %s", got.Hex(), addrHex)
	}
	return got, nil
}
