package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bridgbox/bridgbox/internal/directory"
)

// ChallengeTTL bounds how long a sign-in challenge can be answered.
const ChallengeTTL = 5 * time.Minute

var (
	ErrInvalidChallenge = errors.New("invalid sign-in challenge")
	ErrChallengeExpired = errors.New("sign-in challenge expired")
	ErrBadSignature     = errors.New("signature does not match address")
)

// LoginChallenge is the text a wallet signs with personal_sign to prove
// it controls an address.
type LoginChallenge struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// usedNonces remembers answered challenges until they expire.
type usedNonces struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// claim reports whether nonce was unused and marks it used.
func (u *usedNonces) claim(nonce string, expires, now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for n, exp := range u.seen {
		if now.After(exp) {
			delete(u.seen, n)
		}
	}
	if _, ok := u.seen[nonce]; ok {
		return false
	}
	if u.seen == nil {
		u.seen = make(map[string]time.Time)
	}
	u.seen[nonce] = expires
	return true
}

// Challenge issues a sign-in challenge for address. The nonce is signed
// with the session secret, so nothing is stored until it is answered.
func (m *Manager) Challenge(address, domain string, now time.Time) (LoginChallenge, error) {
	normalized, err := directory.NormalizeAddress(address)
	if err != nil {
		return LoginChallenge{}, err
	}
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return LoginChallenge{}, fmt.Errorf("generate nonce: %w", err)
	}
	payload := normalized + "|" + strconv.FormatInt(now.Unix(), 10) + "|" + hex.EncodeToString(random)
	nonce := base64.RawURLEncoding.EncodeToString([]byte(payload + "|" + m.sign(payload)))
	return LoginChallenge{
		Address:   normalized,
		Nonce:     nonce,
		Message:   challengeMessage(domain, normalized, nonce, now),
		ExpiresAt: now.Add(ChallengeTTL).UTC(),
	}, nil
}

// VerifyLogin checks that signature is address's personal_sign over the
// challenge carrying nonce. A nonce is accepted once.
func (m *Manager) VerifyLogin(address, domain, nonce, signature string, now time.Time) (string, error) {
	normalized, err := directory.NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	raw, err := base64.RawURLEncoding.DecodeString(nonce)
	if err != nil {
		return "", ErrInvalidChallenge
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 || !m.verify(strings.Join(parts[:3], "|"), parts[3]) || parts[0] != normalized {
		return "", ErrInvalidChallenge
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrInvalidChallenge
	}
	issued := time.Unix(unix, 0)
	if now.Sub(issued) > ChallengeTTL || issued.After(now.Add(time.Minute)) {
		return "", ErrChallengeExpired
	}

	signer, err := recoverSigner(challengeMessage(domain, normalized, nonce, issued), signature)
	if err != nil || signer != normalized {
		return "", ErrBadSignature
	}
	if !m.nonces.claim(nonce, issued.Add(ChallengeTTL), now) {
		return "", ErrInvalidChallenge
	}
	return normalized, nil
}

func challengeMessage(domain, address, nonce string, issued time.Time) string {
	return fmt.Sprintf("Sign in to %s\n\nAddress: %s\nNonce: %s\nIssued At: %s",
		domain, address, nonce, issued.UTC().Format(time.RFC3339))
}

// recoverSigner returns the lowercased address that produced an EIP-191
// signature over message. Recovery ids 0/1 and 27/28 are both accepted.
func recoverSigner(message, signature string) (string, error) {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", err
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", err
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
