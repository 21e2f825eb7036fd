package common

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"

	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/ethereum/go-ethereum/crypto"
)

const SignatureLength = crypto.SignatureLength

// PersonalDigest applies the Ethereum personal-message prefix to payload, so
// owners can sign record payloads from ordinary wallets.
func PersonalDigest(payload []byte) Hash {
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(payload)))
	return Keccak256(append(prefix, payload...))
}

// OwnerAddress derives the owner identity recorded in a Record.
func OwnerAddress(privateKey *ecdsa.PrivateKey) Address {
	return Address(crypto.PubkeyToAddress(privateKey.PublicKey))
}

// HexToOwnerKey parses a private key in hex format.
func HexToOwnerKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("error converting private key: %v", err)
	}
	return privateKey, nil
}

// SignDigest returns the 65-byte [R || S || V] signature of digest.
func SignDigest(privateKey *ecdsa.PrivateKey, digest Hash) ([]byte, error) {
	signature, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return nil, fmt.Errorf("error signing the hash: %v", err)
	}
	return signature, nil
}

// RecoverSigner returns the address whose key produced signature over digest.
// V may be given as a recovery id (0/1) or in wallet form (27/28).
func RecoverSigner(digest Hash, signature []byte) (Address, error) {
	if len(signature) != SignatureLength {
		return Address{}, fmt.Errorf("signature length %d: %w", len(signature), rollerrors.ErrVBadSignature)
	}
	sig := signature
	if v := signature[crypto.RecoveryIDOffset]; v >= 27 {
		sig = append([]byte(nil), signature...)
		sig[crypto.RecoveryIDOffset] = v - 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return Address{}, fmt.Errorf("recover: %v: %w", err, rollerrors.ErrVBadSignature)
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

// VerifyOwnerSignature checks that signature over digest was produced by owner.
func VerifyOwnerSignature(owner Address, digest Hash, signature []byte) error {
	signer, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}
	if signer != owner {
		return fmt.Errorf("signer %s, owner %s: %w", signer.Hex(), owner.Hex(), rollerrors.ErrVBadSignature)
	}
	return nil
}
