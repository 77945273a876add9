// Package account implements the credential store: a persistent list of
// upstream accounts, a round-robin cursor, refresh de-duplication, and the
// failure-counter state machine that disables an account after repeated
// refresh failures.
package account

import (
	"encoding/json"
	"time"
)

// expirySafetyMargin is subtracted from the computed expiry so tokens are
// treated as expired slightly before the upstream actually rejects them.
const expirySafetyMargin = 5 * time.Minute

// Account is a single upstream credential. SessionID is process-local and
// regenerated every time the store loads from disk; it is never persisted.
type Account struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	ExpiresIn      int64     `json:"expires_in_seconds"`
	IssuedAtMs     int64     `json:"issued_at_ms"`
	ProjectID      string    `json:"project_id,omitempty"`
	Email          string    `json:"email,omitempty"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	SessionID      string    `json:"-"`

	// failureCount is in-memory only; it resets on process restart by design
	// (see SPEC_FULL / DESIGN.md Open Question notes).
	failureCount int `json:"-"`
}

// IsExpired implements the invariant from the data model: the account is
// expired once now is within the safety margin of its computed expiry.
func (a *Account) IsExpired(now time.Time) bool {
	if a == nil {
		return true
	}
	expiresAtMs := a.IssuedAtMs + a.ExpiresIn*1000 - expirySafetyMargin.Milliseconds()
	return now.UnixMilli() >= expiresAtMs
}

// Clone returns a deep-enough copy of the account for safe hand-off outside
// the store's lock (readers must never observe a torn write).
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// persistedAccount is the on-disk shape: every field except SessionID and the
// in-memory failure counter.
type persistedAccount struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in_seconds"`
	IssuedAtMs   int64     `json:"issued_at_ms"`
	ProjectID    string    `json:"project_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

func toPersisted(a *Account) persistedAccount {
	return persistedAccount{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		ExpiresIn:    a.ExpiresIn,
		IssuedAtMs:   a.IssuedAtMs,
		ProjectID:    a.ProjectID,
		Email:        a.Email,
		Enabled:      a.Enabled,
		CreatedAt:    a.CreatedAt,
	}
}

func fromPersisted(p persistedAccount) *Account {
	return &Account{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn,
		IssuedAtMs:   p.IssuedAtMs,
		ProjectID:    p.ProjectID,
		Email:        p.Email,
		Enabled:      p.Enabled,
		CreatedAt:    p.CreatedAt,
	}
}

// marshalList renders the accounts file body: a pretty JSON array.
func marshalList(accounts []*Account) ([]byte, error) {
	out := make([]persistedAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toPersisted(a))
	}
	return json.MarshalIndent(out, "", "  ")
}

func unmarshalList(data []byte) ([]*Account, error) {
	var raw []persistedAccount
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(raw))
	for _, p := range raw {
		out = append(out, fromPersisted(p))
	}
	return out, nil
}
