package password

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm names the hash used for new passwords.
type Algorithm string

const (
	// AlgorithmBcrypt hashes with bcrypt.
	AlgorithmBcrypt Algorithm = "bcrypt"
	// AlgorithmArgon2id hashes with Argon2id.
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, reject a small set of trivially guessable passwords.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Params     Argon2idParams
	Policy     Policy
}

// DefaultConfig returns bcrypt at cost 10 with Argon2id parameters ready for
// deployments that switch algorithms.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: 10,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// ParseAlgorithm maps a config string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgorithmBcrypt:
		return AlgorithmBcrypt, nil
	case AlgorithmArgon2id:
		return AlgorithmArgon2id, nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrConfig, s)
	}
}

// Check validates the configuration.
func (c Config) Check() error {
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("%w: bcrypt cost %d out of range [%d..%d]", ErrConfig, c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Policy.MinLength <= 0 || c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf("%w: min_len(%d) max_len(%d)", ErrConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	if c.Algorithm == AlgorithmArgon2id {
		p := c.Params
		if p.MemoryKiB < 8*1024 || p.Iterations == 0 || p.Parallelism == 0 || p.SaltLength < 8 || p.KeyLength < 16 {
			return fmt.Errorf("%w: argon2id params too weak", ErrConfig)
		}
	}
	return nil
}
