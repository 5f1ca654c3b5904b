// SPDX-License-Identifier: Apache-2.0

package report

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	verrors "github.com/jllopis/vigil/pkg/errors"
)

// FingerprintConfig tunes how repeated occurrences of "the same error" are
// matched. The values are tuning constants, not load-bearing semantics:
// widening them widens the hash space without changing what matches.
type FingerprintConfig struct {
	// MessagePrefixLen is how many leading characters of the message
	// participate in the fingerprint.
	MessagePrefixLen int

	// Length is the hex length of the derived fingerprint.
	Length int
}

// DefaultFingerprintConfig returns the default matching parameters.
func DefaultFingerprintConfig() FingerprintConfig {
	return FingerprintConfig{MessagePrefixLen: 50, Length: 16}
}

// Fingerprint derives the stable dedup key for an error occurrence. It is
// stable for identical (service, method, code, message prefix). Errors with
// no usable message collapse toward a shared bucket per (service, method,
// code); that collision is accepted.
func Fingerprint(src Source, code verrors.ErrorCode, message string, cfg FingerprintConfig) string {
	if cfg.MessagePrefixLen <= 0 {
		cfg.MessagePrefixLen = DefaultFingerprintConfig().MessagePrefixLen
	}
	if cfg.Length <= 0 {
		cfg.Length = DefaultFingerprintConfig().Length
	}

	prefix := message
	if len(prefix) > cfg.MessagePrefixLen {
		prefix = prefix[:cfg.MessagePrefixLen]
	}

	var b strings.Builder
	b.WriteString(src.Service)
	b.WriteString("-")
	b.WriteString(src.Method)
	b.WriteString("-")
	b.WriteString(string(code))
	b.WriteString("-")
	b.WriteString(prefix)

	sum := sha256.Sum256([]byte(b.String()))
	out := hex.EncodeToString(sum[:])
	if len(out) > cfg.Length {
		out = out[:cfg.Length]
	}
	return out
}
