package wallet

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// HeaderName is the payment header attached to upstream requests.
const HeaderName = "X-Payment"

// paymentValidity bounds how long upstream may hold a payment attestation
// before it expires.
const paymentValidity = 5 * time.Minute

// Payment is the attestation carried in the X-Payment header. The header
// value is the base64 of this struct's JSON form.
type Payment struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Value      string `json:"value"`
	Nonce      string `json:"nonce"`
	ValidUntil int64  `json:"validUntil"`
	Signature  string `json:"signature"`
}

// Signer produces payment headers for upstream calls. Implementations must
// be safe for concurrent use.
type Signer interface {
	Sign(amountUSD float64) (string, error)
	Address() string
}

// PaymentSigner signs payment attestations with a secp256k1 wallet key.
type PaymentSigner struct {
	key     *secp256k1.PrivateKey
	address string
	to      string
}

// NewPaymentSigner creates a signer paying the given recipient address.
func NewPaymentSigner(key *secp256k1.PrivateKey, to string) *PaymentSigner {
	return &PaymentSigner{
		key:     key,
		address: AddressFromKey(key),
		to:      to,
	}
}

// Address returns the EIP-55 checksummed wallet address.
func (s *PaymentSigner) Address() string {
	return s.address
}

// Sign produces an X-Payment header value authorizing the given amount.
// Each call mints a fresh nonce and validity window.
func (s *PaymentSigner) Sign(amountUSD float64) (string, error) {
	payment := Payment{
		From:       s.address,
		To:         s.to,
		Value:      microUSD(amountUSD),
		Nonce:      uuid.NewString(),
		ValidUntil: time.Now().Add(paymentValidity).Unix(),
	}

	sig := ecdsa.SignCompact(s.key, paymentDigest(payment), false)
	payment.Signature = "0x" + hex.EncodeToString(sig)

	raw, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ParseHeader decodes an X-Payment header value back into a Payment.
func ParseHeader(header string) (Payment, error) {
	var payment Payment

	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return payment, fmt.Errorf("decode payment header: %w", err)
	}
	if err := json.Unmarshal(raw, &payment); err != nil {
		return payment, fmt.Errorf("parse payment header: %w", err)
	}
	return payment, nil
}

// RecoverAddress recovers the signing address from a payment attestation.
func RecoverAddress(payment Payment) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(payment.Signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("payment signature is not valid hex: %w", err)
	}

	pub, _, err := ecdsa.RecoverCompact(sig, paymentDigest(payment))
	if err != nil {
		return "", fmt.Errorf("recover payment signer: %w", err)
	}
	return AddressFromPub(pub), nil
}

// AddressFromKey derives the EIP-55 checksummed address of a private key.
func AddressFromKey(key *secp256k1.PrivateKey) string {
	return AddressFromPub(key.PubKey())
}

// AddressFromPub derives the EIP-55 checksummed address of a public key:
// the last 20 bytes of the Keccak-256 of the uncompressed point.
func AddressFromPub(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	hash := keccak256(uncompressed[1:])
	return checksumAddress(hash[12:])
}

// paymentDigest hashes the signed fields of a payment. The signature field
// is excluded.
func paymentDigest(p Payment) []byte {
	msg := strings.Join([]string{
		p.From,
		p.To,
		p.Value,
		p.Nonce,
		strconv.FormatInt(p.ValidUntil, 10),
	}, "|")
	return keccak256([]byte(msg))
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// checksumAddress renders a 20-byte address with EIP-55 mixed-case hex.
func checksumAddress(addr []byte) string {
	buf := []byte(hex.EncodeToString(addr))
	hash := keccak256(buf)

	for i, c := range buf {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := hash[i/2] >> 4
		if i%2 == 1 {
			nibble = hash[i/2] & 0x0f
		}
		if nibble >= 8 {
			buf[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(buf)
}

// microUSD converts a dollar amount to USDC-style 6-decimal atomic units,
// rounding up so upstream is never underpaid.
func microUSD(amount float64) string {
	if amount <= 0 {
		return "0"
	}
	return strconv.FormatInt(int64(math.Ceil(amount*1e6)), 10)
}
