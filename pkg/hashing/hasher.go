package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"

	argonMemoryKB    uint32 = 64 * 1024
	argonParallelism uint8  = 2
	argonSaltLength         = 16
	argonKeyLength   uint32 = 32
	argonDefaultTime uint32 = 3

	// MaxBcryptPasswordBytes is the longest input bcrypt accepts.
	MaxBcryptPasswordBytes = 72
)

var (
	// ErrUnknownHashFormat is returned by Verify for hashes it cannot parse.
	ErrUnknownHashFormat = errors.New("unknown credential hash format")
	// ErrPasswordTooLong is returned by Hash when the input exceeds what the
	// algorithm can hash without truncation.
	ErrPasswordTooLong = errors.New("password too long for hash algorithm")
)

// Hasher produces and checks stored credential hashes.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

// NewHasher returns the hasher for algorithm. cost is the bcrypt cost or the
// argon2id time parameter; zero selects the default.
func NewHasher(algorithm string, cost int) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", AlgorithmBcrypt:
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		if cost < bcrypt.MinCost {
			cost = bcrypt.MinCost
		}
		if cost > bcrypt.MaxCost {
			cost = bcrypt.MaxCost
		}
		return &bcryptHasher{cost: cost}, nil
	case AlgorithmArgon2id:
		t := argonDefaultTime
		if cost > 0 {
			t = uint32(cost)
		}
		return &argon2Hasher{time: t, memory: argonMemoryKB, parallelism: argonParallelism}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

type bcryptHasher struct {
	cost int
}

func (h *bcryptHasher) Hash(plain string) (string, error) {
	if len(plain) > MaxBcryptPasswordBytes {
		return "", ErrPasswordTooLong
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(out), nil
}

func (h *bcryptHasher) Verify(plain, hash string) (bool, error) {
	return verify(plain, hash)
}

type argon2Hasher struct {
	time        uint32
	memory      uint32
	parallelism uint8
}

func (h *argon2Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("argon2 salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, h.time, h.memory, h.parallelism, argonKeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id,
		argon2.Version,
		h.memory,
		h.time,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *argon2Hasher) Verify(plain, hash string) (bool, error) {
	return verify(plain, hash)
}

// verify dispatches on the stored hash prefix so hashes produced under a
// previous algorithm or cost keep verifying.
func verify(plain, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return verifyArgon2(plain, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("bcrypt verify: %w", err)
		}
		return true, nil
	default:
		return false, ErrUnknownHashFormat
	}
}

func verifyArgon2(plain, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return false, ErrUnknownHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrUnknownHashFormat
	}

	var memory, t uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &t, &parallelism); err != nil {
		return false, ErrUnknownHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrUnknownHashFormat
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, ErrUnknownHashFormat
	}

	got := argon2.IDKey([]byte(plain), salt, t, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
