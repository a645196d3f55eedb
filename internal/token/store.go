// Package token implements the Token Store: the single mutex-guarded owner
// of the vendor bearer credential, grounded on the original auth.py's
// TokenManager and on the teacher's atomic JSON persistence in storage.go.
package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stockbit-capture/internal/models"
	"stockbit-capture/internal/stockerr"
)

// Store owns the current bearer token and its decoded metadata. All access
// goes through a single RWMutex; readers get immutable snapshots.
type Store struct {
	mu   sync.RWMutex
	path string
	tok  models.Token
	uid  int64
}

// NewStore loads an existing token.json if present. Load errors are logged
// and ignored -- the store simply starts empty, matching the Python
// original's best-effort persistence.
func NewStore(path string) *Store {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		log.Printf("token store: starting empty, could not load %s: %v", path, err)
	}
	return s
}

type onDiskToken struct {
	SchemaVersion int        `json:"schema_version"`
	Token         string     `json:"token"`
	Exp           *time.Time `json:"exp"`
	Cookies       string     `json:"cookies"`
	IssuedAt      time.Time  `json:"issued_at"`
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var raw onDiskToken
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.SchemaVersion == 0 {
		// Predates the schema marker; backfill and let the next Set persist it.
		raw.SchemaVersion = models.CurrentTokenSchemaVersion
	}
	s.mu.Lock()
	s.tok = models.Token{
		SchemaVersion: raw.SchemaVersion,
		Bearer:        raw.Token,
		ExpiresAt:     raw.Exp,
		Cookies:       raw.Cookies,
		IssuedAt:      raw.IssuedAt,
	}
	s.mu.Unlock()
	return nil
}

// persist writes the token atomically: temp file, fsync, rename.
func (s *Store) persist() error {
	s.mu.RLock()
	out := onDiskToken{
		SchemaVersion: models.CurrentTokenSchemaVersion,
		Token:         s.tok.Bearer,
		Exp:           s.tok.ExpiresAt,
		Cookies:       s.tok.Cookies,
		IssuedAt:      s.tok.IssuedAt,
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "marshal token")
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return stockerr.Wrap(stockerr.ErrStorageFailure, "mkdir %s", dir)
		}
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "create temp token file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return stockerr.Wrap(stockerr.ErrStorageFailure, "write temp token file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return stockerr.Wrap(stockerr.ErrStorageFailure, "fsync temp token file")
	}
	if err := tmp.Close(); err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "close temp token file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return stockerr.Wrap(stockerr.ErrStorageFailure, "rename token file into place")
	}
	return nil
}

type bearerPayload struct {
	Exp  int64 `json:"exp"`
	Data struct {
		UID int64 `json:"uid"`
	} `json:"data"`
}

// decodeBearer extracts exp and uid from the middle, base64url-encoded
// segment of a three-part dot-separated bearer token.
func decodeBearer(bearer string) (payload bearerPayload, err error) {
	parts := strings.Split(bearer, ".")
	if len(parts) != 3 {
		return payload, stockerr.Wrap(stockerr.ErrAuthInvalid, "bearer does not have 3 segments")
	}
	segment := parts[1]
	if pad := len(segment) % 4; pad != 0 {
		segment += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.URLEncoding.DecodeString(segment)
	if err != nil {
		return payload, stockerr.Wrap(stockerr.ErrAuthInvalid, "base64url decode bearer payload: %v", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, stockerr.Wrap(stockerr.ErrAuthInvalid, "json decode bearer payload: %v", err)
	}
	return payload, nil
}

// Set decodes and stores a fresh bearer token. On decode failure the store
// is left unmodified.
func (s *Store) Set(bearer, cookies string) (*time.Time, error) {
	payload, err := decodeBearer(bearer)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if payload.Exp > 0 {
		t := time.Unix(payload.Exp, 0).UTC()
		expiresAt = &t
	}

	s.mu.Lock()
	s.tok = models.Token{
		SchemaVersion: models.CurrentTokenSchemaVersion,
		Bearer:        bearer,
		ExpiresAt:     expiresAt,
		Cookies:       cookies,
		IssuedAt:      time.Now().UTC(),
	}
	s.uid = payload.Data.UID
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		log.Printf("token store: persist failed: %v", err)
	}
	return expiresAt, nil
}

// GetValid returns the bearer and true iff a token is present and not
// expired. An absent expiry is treated as valid.
func (s *Store) GetValid() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok := s.tok
	if tok.Valid(time.Now()) {
		return tok.Bearer, true
	}
	return "", false
}

// Cookies returns the currently stored cookie header value, if any.
func (s *Store) Cookies() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok.Cookies
}

// UserID returns the decoded numeric user id from the last successful Set.
func (s *Store) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

// MarkInvalid clears the stored token, to be called by consumers on the next
// 401/403 from the vendor.
func (s *Store) MarkInvalid() error {
	s.mu.Lock()
	s.tok = models.Token{SchemaVersion: models.CurrentTokenSchemaVersion}
	s.uid = 0
	s.mu.Unlock()
	return s.persist()
}

// Status returns the classification used by operator tooling.
func (s *Store) Status() models.TokenStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok := s.tok
	status := models.TokenStatus{
		Present:    tok.Bearer != "",
		Valid:      tok.Valid(time.Now()),
		HasCookies: tok.Cookies != "",
	}
	if tok.Bearer != "" {
		issuedAt := tok.IssuedAt
		status.IssuedAt = &issuedAt
	}
	if tok.ExpiresAt != nil {
		exp := *tok.ExpiresAt
		status.ExpiresAt = &exp
		secs := int64(time.Until(exp).Seconds())
		status.SecondsToExp = &secs
	}
	return status
}

// FetchTradingKey performs a blocking HTTPS GET to fetch the per-connect
// trading key. A 401 response marks the token invalid and returns a nil
// string with no error, matching the Python original's "returns None"
// contract; callers should treat ("", nil) as "login required."
func (s *Store) FetchTradingKey(ctx context.Context, client *http.Client, url string) (string, error) {
	bearer, ok := s.GetValid()
	if !ok {
		return "", stockerr.Wrap(stockerr.ErrAuthInvalid, "no valid bearer token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build trading key request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if cookies := s.Cookies(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", stockerr.Wrap(stockerr.ErrTransportTransient, "trading key request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if err := s.MarkInvalid(); err != nil {
			log.Printf("token store: mark invalid after 401 failed: %v", err)
		}
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", stockerr.Wrap(stockerr.ErrTransportTransient, "trading key fetch status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", stockerr.Wrap(stockerr.ErrProtocolMalformed, "decode trading key response: %v", err)
	}
	return payload.Data.Key, nil
}
