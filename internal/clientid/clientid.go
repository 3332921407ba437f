// Package clientid derives the stable per-session identifier used to key
// rate limiting and lockout. It is not a security boundary: an attacker who
// clears session storage gets a fresh identifier.
package clientid

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/fieldgate/backend/internal/storage"
)

// StorageKey is the session storage slot holding the identifier
const StorageKey = "clientId"

// Length is the number of characters in an identifier
const Length = 16

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Fingerprint is the coarse environment description sent by the client
type Fingerprint struct {
	ScreenWidth  int
	ScreenHeight int
	TimeZone     string
}

// ParseScreen reads a "1920x1080" header value. Malformed values yield zeros.
func ParseScreen(v string) (width, height int) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return 0, 0
	}
	width, _ = strconv.Atoi(w)
	height, _ = strconv.Atoi(h)
	return width, height
}

// Generate builds a new identifier from the time, nine random base36
// characters and the fingerprint.
func Generate(now time.Time, fp Fingerprint) (string, error) {
	random, err := randomBase36(9)
	if err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}

	raw := strings.Join([]string{
		strconv.FormatInt(now.UnixMilli(), 36),
		random,
		fmt.Sprintf("%dx%d", fp.ScreenWidth, fp.ScreenHeight),
		fp.TimeZone,
	}, "_")

	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:Length], nil
}

// Get returns the identifier stored in the namespace, creating and storing
// one on first use.
func Get(ctx context.Context, ns storage.Namespace, fp Fingerprint, now time.Time) (string, error) {
	if id, ok, err := ns.Get(ctx, StorageKey); err != nil {
		return "", err
	} else if ok && id != "" {
		return id, nil
	}

	id, err := Generate(now, fp)
	if err != nil {
		return "", err
	}
	if err := ns.Set(ctx, StorageKey, id); err != nil {
		return "", err
	}
	return id, nil
}

func randomBase36(n int) (string, error) {
	alphabet := big.NewInt(int64(len(base36)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		b[i] = base36[idx.Int64()]
	}
	return string(b), nil
}
