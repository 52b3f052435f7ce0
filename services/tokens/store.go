// Package tokens persists user credential payloads keyed by derived
// tokens. Tokens are deterministic HMACs of the payload so resubmitting
// the same credentials yields the same token, and payloads are sealed
// with a salt-derived key before touching disk.
package tokens

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"watchly/config"
	"watchly/models"
)

var (
	// ErrInsecureSalt is returned when the configured salt is missing or
	// still the shipped default. Storing credentials under it would let
	// anyone derive tokens.
	ErrInsecureSalt = errors.New("token salt is unset or still the default")
	// ErrNotFound is returned when a token has no stored payload.
	ErrNotFound = errors.New("token not found")
)

const nonceSize = 24

// Store is a sqlite-backed token store.
type Store struct {
	db   *sql.DB
	salt string
	ttl  time.Duration
}

// NewStore creates a store over an open database connection. ttl of zero
// means stored payloads never expire.
func NewStore(db *sql.DB, salt string, ttl time.Duration) *Store {
	return &Store{db: db, salt: salt, ttl: ttl}
}

// secure reports whether the salt is usable for storing credentials.
func (s *Store) secure() bool {
	return s.salt != "" && s.salt != config.DefaultTokenSalt
}

// normalize trims payload fields so equivalent submissions derive the
// same token.
func normalize(payload models.CredentialPayload) models.CredentialPayload {
	payload.Username = strings.TrimSpace(payload.Username)
	payload.AuthKey = strings.TrimSpace(payload.AuthKey)
	return payload
}

// DeriveToken computes the deterministic token for a payload without
// storing anything.
func (s *Store) DeriveToken(payload models.CredentialPayload) (string, error) {
	if !s.secure() {
		return "", ErrInsecureSalt
	}
	canonical, err := json.Marshal(normalize(payload))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return s.mac(canonical), nil
}

func (s *Store) mac(data []byte) string {
	h := hmac.New(sha256.New, []byte(s.salt))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// sealKey derives the secretbox key from the salt.
func (s *Store) sealKey() *[32]byte {
	key := sha256.Sum256([]byte(s.salt))
	return &key
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, s.sealKey()), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, errors.New("sealed payload too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, s.sealKey())
	if !ok {
		return nil, errors.New("payload decryption failed")
	}
	return plaintext, nil
}

// Save stores a payload and returns its derived token. Saving the same
// payload again refreshes the stored record and expiry.
func (s *Store) Save(ctx context.Context, payload models.CredentialPayload) (string, error) {
	token, err := s.DeriveToken(payload)
	if err != nil {
		return "", err
	}

	plaintext, err := json.Marshal(normalize(payload))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sealed, err := s.seal(plaintext)
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	var expiresAt int64
	if s.ttl > 0 {
		expiresAt = now + int64(s.ttl.Seconds())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens (token_hash, payload, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, s.mac([]byte(token)), sealed, now, now, expiresAt)
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}

	s.sweep(ctx)
	return token, nil
}

// Get resolves a token to its payload. Expired tokens behave as absent.
func (s *Store) Get(ctx context.Context, token string) (models.CredentialPayload, error) {
	var payload models.CredentialPayload
	if !s.secure() {
		return payload, ErrInsecureSalt
	}

	var sealed []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM tokens WHERE token_hash = ?`,
		s.mac([]byte(token)),
	).Scan(&sealed, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payload, ErrNotFound
	}
	if err != nil {
		return payload, fmt.Errorf("load token: %w", err)
	}
	if expiresAt > 0 && expiresAt <= time.Now().Unix() {
		return payload, ErrNotFound
	}

	plaintext, err := s.open(sealed)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Delete removes a token. Deleting an absent token is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	if !s.secure() {
		return ErrInsecureSalt
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE token_hash = ?`, s.mac([]byte(token)))
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// ForEach calls fn for every live stored payload. Records that fail to
// decrypt or decode are skipped. fn returning an error stops iteration.
func (s *Store) ForEach(ctx context.Context, fn func(payload models.CredentialPayload) error) error {
	if !s.secure() {
		return ErrInsecureSalt
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT token_hash, payload FROM tokens
		WHERE expires_at = 0 OR expires_at > ?
		ORDER BY updated_at DESC
	`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var sealed []byte
		if err := rows.Scan(&hash, &sealed); err != nil {
			return fmt.Errorf("scan token row: %w", err)
		}
		plaintext, err := s.open(sealed)
		if err != nil {
			log.Printf("[tokens] skipping undecryptable record %s: %v", maskHash(hash), err)
			continue
		}
		var payload models.CredentialPayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			log.Printf("[tokens] skipping malformed record %s: %v", maskHash(hash), err)
			continue
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of live stored tokens.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tokens WHERE expires_at = 0 OR expires_at > ?
	`, time.Now().Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

// sweep drops expired rows. Failures are logged and otherwise ignored.
func (s *Store) sweep(ctx context.Context) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at > 0 AND expires_at <= ?`,
		time.Now().Unix())
	if err != nil {
		log.Printf("[tokens] sweep failed: %v", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[tokens] swept %d expired tokens", n)
	}
}

func maskHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8] + "..."
}
