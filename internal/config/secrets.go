package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

// MinJWTSecretLength is the shortest signing key accepted in production
const MinJWTSecretLength = 32

// SecretsValidationError lists every problem found with configured secrets
type SecretsValidationError struct {
	Missing []string
	Invalid []string
}

func (e *SecretsValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, "; "))
	}
	return "secrets validation failed: " + strings.Join(parts, " | ")
}

func (e *SecretsValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// ValidateSecrets checks the secrets in cfg. Production and staging fail hard;
// development gets an ephemeral JWT secret when none is configured.
func ValidateSecrets(cfg *Config) error {
	strict := cfg.IsProduction() || cfg.Environment == EnvStaging
	verr := &SecretsValidationError{}

	switch {
	case cfg.Auth.JWTSecret == "":
		if strict {
			verr.Missing = append(verr.Missing, "JWT_SECRET")
			break
		}
		secret, err := GenerateSecureSecret(48)
		if err != nil {
			return err
		}
		cfg.Auth.JWTSecret = secret
		logging.L().Warn("JWT_SECRET not set, generated an ephemeral secret; tokens will not survive restarts")
	case len(cfg.Auth.JWTSecret) < MinJWTSecretLength:
		msg := fmt.Sprintf("JWT_SECRET: too short (min %d characters)", MinJWTSecretLength)
		if strict {
			verr.Invalid = append(verr.Invalid, msg)
		} else {
			logging.L().Warn(msg + " (allowed in development)")
		}
	default:
		if err := validateJWTSecret(cfg.Auth.JWTSecret); err != nil {
			if strict {
				verr.Invalid = append(verr.Invalid, "JWT_SECRET: "+err.Error())
			} else {
				logging.L().Warn("weak JWT_SECRET (allowed in development)", zap.Error(err))
			}
		}
	}

	if strict && cfg.Database.Driver == "postgres" && cfg.Database.URL == "" && cfg.Database.Password == "" {
		verr.Missing = append(verr.Missing, "DATABASE_URL")
	}
	if strict && cfg.AI.OpenAIKey == "" && cfg.AI.AnthropicKey == "" {
		verr.Missing = append(verr.Missing, "OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// validateJWTSecret rejects placeholder and low-entropy signing keys.
func validateJWTSecret(secret string) error {
	weakSecrets := []string{
		"secret", "changeme", "password", "example",
		"default", "placeholder", "replace-me", "agenthub",
	}

	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("contains weak/placeholder value %q", weak)
		}
	}

	allAlpha, allDigit := true, true
	for _, c := range secret {
		if !unicode.IsLetter(c) {
			allAlpha = false
		}
		if !unicode.IsDigit(c) {
			allDigit = false
		}
	}
	if allAlpha || allDigit {
		return errors.New("must mix letters with digits or symbols")
	}

	if entropy := shannonEntropy(secret); entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}
	if hasRepeatingPattern(secret) {
		return errors.New("appears to contain a repeating pattern")
	}
	return nil
}

// shannonEntropy calculates Shannon entropy in bits per character.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// hasRepeatingPattern detects strings made of one repeated substring ("abcabc").
func hasRepeatingPattern(s string) bool {
	n := len(s)
	if n < 6 {
		return false
	}
	for patLen := 1; patLen <= n/2; patLen++ {
		isRepeat := true
		for i := patLen; i < n; i++ {
			if s[i] != s[i%patLen] {
				isRepeat = false
				break
			}
		}
		if isRepeat {
			return true
		}
	}
	return false
}

// GenerateSecureSecret returns length random bytes, base64url encoded
func GenerateSecureSecret(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
