package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/zeebo/blake3"
)

// codeAlphabet omits 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeLength    = 6
	codeAttempts  = 8
	tokenEntropy  = 24
	tokenHashSize = 32
)

// newConfirmationCode returns a short human-presentable code.
func newConfirmationCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// uniqueConfirmationCode draws codes until one is unused in the event.
// Exhausting the attempts returns repository.ErrDuplicateCode, which the
// retry loop treats as transient.
func uniqueConfirmationCode(ctx context.Context, tx repository.Tx, eventID string) (string, error) {
	for range codeAttempts {
		code, err := newConfirmationCode()
		if err != nil {
			return "", err
		}
		exists, err := tx.ConfirmationCodeExists(ctx, eventID, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", repository.ErrDuplicateCode
}

// newCancellationToken returns an unguessable capability token and the
// hash under which it is stored.
func newCancellationToken() (token, hash string, err error) {
	buf := make([]byte, tokenEntropy)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate cancellation token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:tokenHashSize])
}

// normalizeCode makes code lookups case-insensitive.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
