// Package password wraps argon2id hashing with PHC-encoded output,
// constant-time verification, and parameter-upgrade detection.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 8
)

// ErrTooShort rejects passwords under the minimum byte length before any
// hashing work.
var ErrTooShort = fmt.Errorf("password must be at least %d bytes", minPassBytes)

// Config holds argon2id cost parameters. Memory is in KB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords with a fixed parameter set.
// Safe for concurrent use.
type Hasher struct {
	cfg Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("argon2 memory must be >= 8192 KB")
	case cfg.Time < 1:
		return nil, errors.New("argon2 time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("argon2 parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("argon2 salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("argon2 key length must be >= 16")
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash derives an argon2id hash of password with a fresh random salt and
// returns it in PHC string format:
//
//	$argon2id$v=19$m=65536,t=4,p=3$<salt-b64>$<hash-b64>
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", ErrTooShort
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.cfg.Memory, h.cfg.Time, h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash
// and compares in constant time. A malformed hash is an error, not a
// mismatch, so storage corruption is distinguishable from a wrong
// password.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration. Callers rehash-and-store on
// the next successful verification.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	return h.cfg.Memory > p.memory ||
		h.cfg.Time > p.time ||
		h.cfg.Parallelism > p.parallelism ||
		h.cfg.KeyLength != uint32(len(p.key)), nil
}

type phcParts struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phcParts, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if fields[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(fields[2], "v="))
	if err != nil || !strings.HasPrefix(fields[2], "v=") {
		return nil, errors.New("invalid argon2 version field")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var p phcParts
	for _, pair := range strings.Split(fields[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}
		v, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return nil, errors.New("invalid parameter value")
		}
		switch kv[0] {
		case "m":
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			if v > 255 {
				return nil, errors.New("invalid parallelism value")
			}
			p.parallelism = uint8(v)
		default:
			return nil, errors.New("unsupported parameter")
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, errors.New("missing parameters")
	}

	if p.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(p.salt) < int(minSaltLength) {
		return nil, errors.New("salt too short")
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(p.key) == 0 {
		return nil, errors.New("empty hash")
	}

	return &p, nil
}
