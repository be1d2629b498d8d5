package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"nexora/internal/supabase"
)

var ErrNoSession = errors.New("no session")

const verifierMaxAge = 10 * time.Minute

// Store persists backend sessions in SQLite. Token material is sealed with
// secretbox under a key derived from the configured secret.
type Store struct {
	db  *sql.DB
	key [32]byte
	now func() time.Time
}

func NewStore(db *sql.DB, secret string) *Store {
	return &Store{
		db:  db,
		key: sha256.Sum256([]byte(secret)),
		now: time.Now,
	}
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Store) open(box []byte) ([]byte, error) {
	if len(box) < 24 {
		return nil, errors.New("sealed session too short")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("sealed session does not open")
	}
	return plain, nil
}

// Save stores session under id until expires, replacing any previous value.
func (s *Store) Save(ctx context.Context, id string, session *supabase.Session, expires time.Time) error {
	plain, err := json.Marshal(session)
	if err != nil {
		return err
	}
	box, err := s.seal(plain)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(id,user_id,sealed,expires_at,created_at) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, sealed=excluded.sealed, expires_at=excluded.expires_at`,
		id, session.User.ID, box, expires.Unix(), s.now().Unix())
	return err
}

// Load returns ErrNoSession for unknown, expired or unreadable rows.
func (s *Store) Load(ctx context.Context, id string) (*supabase.Session, error) {
	var box []byte
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT sealed, expires_at FROM sessions WHERE id = ?`, id).Scan(&box, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	} else if err != nil {
		return nil, err
	}
	if s.now().Unix() >= expires {
		return nil, ErrNoSession
	}
	plain, err := s.open(box)
	if err != nil {
		return nil, ErrNoSession
	}
	session := &supabase.Session{}
	if err := json.Unmarshal(plain, session); err != nil {
		return nil, ErrNoSession
	}
	return session, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// SaveVerifier keeps a PKCE verifier until the provider calls back.
func (s *Store) SaveVerifier(ctx context.Context, state, verifier string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO oauth_states(id,verifier,created_at) VALUES(?,?,?)`,
		state, verifier, s.now().Unix())
	return err
}

// TakeVerifier returns and forgets the verifier for state. Each state can be
// used once.
func (s *Store) TakeVerifier(ctx context.Context, state string) (string, error) {
	var verifier string
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT verifier, created_at FROM oauth_states WHERE id = ?`, state).Scan(&verifier, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoSession
	} else if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE id = ?`, state); err != nil {
		return "", err
	}
	if s.now().Sub(time.Unix(created, 0)) > verifierMaxAge {
		return "", ErrNoSession
	}
	return verifier, nil
}

// Prune drops expired sessions and stale sign-in attempts.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE created_at <= ?`, now.Add(-verifierMaxAge).Unix())
	if err != nil {
		return n, err
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}
