package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Ledger-Address"
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

// Signer signs ledger API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// RequestMessage is the text a request signature covers:
//
//	METHOD \n PATH \n UNIX_TIMESTAMP \n 0x<keccak256(body)>
func RequestMessage(method, path string, timestamp int64, body []byte) []byte {
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		ethcrypto.Keccak256Hash(body).Hex(),
	}, "\n"))
}

// SignRequest signs RequestMessage as an EIP-191 personal message and returns
// the 65-byte signature as 0x-prefixed hex.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(accounts.TextHash(RequestMessage(method, path, timestamp, body)))
}

// signDigest signs a 32-byte digest and returns hex(r || s || v) with v in
// {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequest returns the address that produced sigHex over the request.
// Errors wrap domain.ErrBadSignature.
func RecoverRequest(method, path string, timestamp int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: not hex", domain.ErrBadSignature)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", domain.ErrBadSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", domain.ErrBadSignature, sig[64])
	}

	digest := accounts.TextHash(RequestMessage(method, path, timestamp, body))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex over the request was produced by want.
func VerifyRequest(want common.Address, method, path string, timestamp int64, body []byte, sigHex string) error {
	got, err := RecoverRequest(method, path, timestamp, body, sigHex)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s", domain.ErrBadSignature, got.Hex())
	}
	return nil
}
