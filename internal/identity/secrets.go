package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// apiKeyPrefix marks every issued API key, per spec.md §3.
const apiKeyPrefix = "clk_"

const (
	apiKeySecretLength   = 32
	claimTokenLength     = 16
	verificationSuffixLen = 4
)

// ambiguityFreeAlphabet drops visually ambiguous characters (I, O, 0, 1) from A-Z2-9, per
// spec.md §4.3.
const ambiguityFreeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// opaqueAlphabet is used for the apiKey and claimToken secrets, where ambiguity doesn't matter
// because they're never transcribed by a human.
const opaqueAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// verificationWords is the 24-word list verification codes are drawn from.
var verificationWords = []string{
	"reef", "tide", "coral", "kelp", "wave", "shoal", "drift", "cove",
	"atoll", "shore", "brine", "pearl", "delta", "inlet", "spray", "surge",
	"basin", "fjord", "lagoon", "marsh", "spit", "swell", "bay", "cape",
}

// GenerateAPIKey returns a new opaque, clk_-prefixed API key and its stored digest. The raw key
// is shown to the caller exactly once; only the digest is persisted.
func GenerateAPIKey() (rawKey, keyHash string, err error) {
	secret, err := randomString(apiKeySecretLength, opaqueAlphabet)
	if err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	rawKey = apiKeyPrefix + secret
	return rawKey, HashAPIKey(rawKey), nil
}

// HashAPIKey returns the lookup digest for rawKey. apiKeys are high-entropy random secrets, not
// human-chosen passwords, so a fast indexed digest is the right tool (see DESIGN.md); there is
// nothing for a slow KDF to defend against here.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// HasAPIKeyPrefix reports whether key carries the clk_ prefix every issued key has.
func HasAPIKeyPrefix(key string) bool {
	return len(key) > len(apiKeyPrefix) && key[:len(apiKeyPrefix)] == apiKeyPrefix
}

// GenerateClaimToken returns a new opaque claim token.
func GenerateClaimToken() (string, error) {
	token, err := randomString(claimTokenLength, opaqueAlphabet)
	if err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	return token, nil
}

// GenerateVerificationCode returns a word-digit code like "reef-X4B2", drawn from a 24-word list
// and a 32-character ambiguity-free alphabet (spec.md §4.3).
func GenerateVerificationCode() (string, error) {
	wordIdx, err := rand.Int(rand.Reader, big.NewInt(int64(len(verificationWords))))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	suffix, err := randomString(verificationSuffixLen, ambiguityFreeAlphabet)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%s-%s", verificationWords[wordIdx.Int64()], suffix), nil
}

// randomString produces a cryptographically random string of n characters drawn from alphabet.
func randomString(n int, alphabet string) (string, error) {
	alphabetLen := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}
