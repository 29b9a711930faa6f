// Package pow implements the hash puzzle senders solve before mail is
// accepted. Difficulty counts leading zero hex characters of the
// SHA-256 digest, so each step is four bits.
//
// Challenges are not bound to a server-side nonce and can be replayed.
package pow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	DefaultDifficulty = 3
	DefaultPrefix     = "bridgbox"

	// MaxDifficulty is the digest length in hex characters.
	MaxDifficulty = sha256.Size * 2

	randomLength = 13
	checkEvery   = 1024
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

type Challenge struct {
	Text       string `json:"text"`
	Difficulty int    `json:"difficulty"`
}

type Solution struct {
	Nonce uint64 `json:"nonce"`
	Hash  string `json:"hash"`
}

// NewChallenge returns a challenge whose text is prefix followed by a
// random base-36 string.
func NewChallenge(difficulty int, prefix string) (Challenge, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	random, err := randomString(randomLength)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge: %w", err)
	}
	return Challenge{
		Text:       prefix + ":" + random,
		Difficulty: clampDifficulty(difficulty),
	}, nil
}

// Solve searches nonces from zero upward and returns the first one that
// satisfies the challenge. It returns ctx.Err() once ctx is done.
func Solve(ctx context.Context, challenge Challenge) (Solution, error) {
	prefix := strings.Repeat("0", clampDifficulty(challenge.Difficulty))
	for nonce := uint64(0); ; nonce++ {
		if nonce%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Solution{}, err
			}
		}
		hash := Digest(challenge.Text, nonce)
		if strings.HasPrefix(hash, prefix) {
			return Solution{Nonce: nonce, Hash: hash}, nil
		}
	}
}

func Verify(challenge Challenge, nonce uint64) bool {
	prefix := strings.Repeat("0", clampDifficulty(challenge.Difficulty))
	return strings.HasPrefix(Digest(challenge.Text, nonce), prefix)
}

// Digest is the lowercase hex SHA-256 of "text:nonce".
func Digest(text string, nonce uint64) string {
	sum := sha256.Sum256([]byte(text + ":" + strconv.FormatUint(nonce, 10)))
	return hex.EncodeToString(sum[:])
}

func clampDifficulty(difficulty int) int {
	if difficulty < 0 {
		return 0
	}
	return difficulty
}

func randomString(n int) (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(base36[idx.Int64()])
	}
	return b.String(), nil
}
