package remote

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ecosort/internal/types"
)

// SQLiteStore implements the Store contract over a local SQLite database.
// Writes are serialized through a single connection, so the database's write
// order decides races between concurrent clients (two collectors accepting
// the same request) exactly the way a hosted backend would.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	// Change feed fan-out. Channels are buffered so emitters never block;
	// a subscriber that falls behind misses intermediate events, which is
	// harmless because every event means "refetch the whole snapshot".
	subMu sync.Mutex
	subs  []chan ChangeEvent
	seq   atomic.Uint64

	sessionCh chan SessionEvent
}

// NewSQLiteStore opens (or creates) the database at the given path.
// Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps :memory: databases coherent and serializes
	// writes, which is what gives AcceptRequest its exactly-once outcome.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:        db,
		dbPath:    path,
		sessionCh: make(chan SessionEvent, 8),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the required tables.
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		secret_hash TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL REFERENCES identities(id),
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		requester_name TEXT NOT NULL,
		requester_address TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		quantity TEXT NOT NULL,
		status TEXT NOT NULL,
		collector_id TEXT,
		ai_tips TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.subMu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()
	return s.db.Close()
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// PROVIDER: SESSIONS AND IDENTITIES
// =============================================================================

// GetSession returns the profile of the most recent open session, or
// (nil, nil) when no session exists.
func (s *SQLiteStore) GetSession(ctx context.Context) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.email, i.display_name, i.address, i.role
		FROM sessions s JOIN identities i ON i.id = s.identity_id
		ORDER BY s.created_at DESC LIMIT 1`)

	p := &Profile{}
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Address, &p.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resume session: %w", err)
	}
	return p, nil
}

// SessionEvents returns the provider's session change channel.
func (s *SQLiteStore) SessionEvents() <-chan SessionEvent {
	return s.sessionCh
}

func (s *SQLiteStore) emitSession(ev SessionEvent) {
	select {
	case s.sessionCh <- ev:
	default:
		// Slow consumer; the event is reflected in store state regardless.
	}
}

// SignIn verifies the credentials and opens a session.
func (s *SQLiteStore) SignIn(ctx context.Context, email, secret string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, secret_hash, display_name, address, role
		FROM identities WHERE email = ?`, email)

	var p Profile
	var hash string
	err := row.Scan(&p.ID, &p.Email, &hash, &p.DisplayName, &p.Address, &p.Role)
	if err == sql.ErrNoRows {
		return nil, &types.AuthError{Op: "sign_in", Reason: "invalid email or password"}
	}
	if err != nil {
		return nil, fmt.Errorf("sign in query failed: %w", err)
	}
	if hash != hashSecret(secret) {
		return nil, &types.AuthError{Op: "sign_in", Reason: "invalid email or password"}
	}

	if err := s.openSession(ctx, p.ID); err != nil {
		return nil, err
	}
	s.emitSession(SessionEvent{Kind: SessionSignedIn, Profile: &p})
	return &p, nil
}

// SignUp registers a new identity and opens a session for it.
func (s *SQLiteStore) SignUp(ctx context.Context, profile Profile, secret string) (*Profile, error) {
	if _, err := types.ParseRole(profile.Role); err != nil {
		return nil, &types.AuthError{Op: "sign_up", Reason: err.Error()}
	}

	p := profile
	p.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, secret_hash, display_name, address, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, hashSecret(secret), p.DisplayName, p.Address, p.Role, time.Now().UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &types.AuthError{Op: "sign_up", Reason: "an account with this email already exists"}
		}
		return nil, fmt.Errorf("sign up insert failed: %w", err)
	}

	if err := s.openSession(ctx, p.ID); err != nil {
		return nil, err
	}
	s.emitSession(SessionEvent{Kind: SessionSignedIn, Profile: &p})
	return &p, nil
}

func (s *SQLiteStore) openSession(ctx context.Context, identityID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity_id, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), identityID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}

// SignOut closes all open sessions.
func (s *SQLiteStore) SignOut(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return fmt.Errorf("sign out failed: %w", err)
	}
	s.emitSession(SessionEvent{Kind: SessionSignedOut})
	return nil
}

// UpdateIdentity applies a partial profile update and returns the stored
// profile, which is the authority on what was actually changed.
func (s *SQLiteStore) UpdateIdentity(ctx context.Context, id string, patch ProfilePatch) (*Profile, error) {
	if patch.DisplayName != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE identities SET display_name = ? WHERE id = ?`, *patch.DisplayName, id); err != nil {
			return nil, fmt.Errorf("failed to update display name: %w", err)
		}
	}
	if patch.Address != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE identities SET address = ? WHERE id = ?`, *patch.Address, id); err != nil {
			return nil, fmt.Errorf("failed to update address: %w", err)
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, address, role FROM identities WHERE id = ?`, id)
	p := &Profile{}
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Address, &p.Role)
	if err == sql.ErrNoRows {
		return nil, &types.AuthError{Op: "update_identity", Reason: "identity not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reload identity: %w", err)
	}
	return p, nil
}

// =============================================================================
// COLLECTION: REQUEST RECORDS
// =============================================================================

// QueryRequests returns every request, newest first.
func (s *SQLiteStore) QueryRequests(ctx context.Context) ([]types.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester_id, requester_name, requester_address, category,
		       description, quantity, status, collector_id, ai_tips, created_at
		FROM requests ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("request query failed: %w", err)
	}
	defer rows.Close()

	var out []types.Request
	for rows.Next() {
		var r types.Request
		var collector, tips sql.NullString
		var createdMillis int64
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.RequesterName, &r.RequesterAddress,
			&r.Category, &r.Description, &r.Quantity, &r.Status,
			&collector, &tips, &createdMillis); err != nil {
			return nil, fmt.Errorf("request scan failed: %w", err)
		}
		r.CollectorID = collector.String
		r.AITips = tips.String
		r.CreatedAt = time.UnixMilli(createdMillis)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request iteration failed: %w", err)
	}
	return out, nil
}

// InsertRequest stores a new record, assigning its id and timestamp.
func (s *SQLiteStore) InsertRequest(ctx context.Context, req types.Request) (string, error) {
	id := uuid.NewString()
	var collector, tips interface{}
	if req.CollectorID != "" {
		collector = req.CollectorID
	}
	if req.AITips != "" {
		tips = req.AITips
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, requester_id, requester_name, requester_address,
			category, description, quantity, status, collector_id, ai_tips, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.RequesterID, req.RequesterName, req.RequesterAddress,
		req.Category, req.Description, req.Quantity, req.Status,
		collector, tips, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("request insert failed: %w", err)
	}
	s.emitChange()
	return id, nil
}

// UpdateRequestStatus moves a record from one status to another. The WHERE
// clause targets the from status, so a writer holding a stale view cannot
// overwrite a state someone else reached first; like AcceptRequest, missing
// the swap on an existing record is a no-op resolved by the next refresh.
// The collector binding is left as-is so a rejected-after-accepted record
// keeps the collector that abandoned it.
func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id string, from, to types.RequestStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM requests WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return &types.ValidationError{Reason: fmt.Sprintf("request %s not found", id)}
		}
		if err != nil {
			return fmt.Errorf("status update failed: %w", err)
		}
		return nil
	}
	s.emitChange()
	return nil
}

// AcceptRequest is the compare-and-swap acceptance write. The WHERE clause
// targets status = PENDING, so of two racing collectors exactly one update
// takes effect; the other is a silent no-op resolved by its next refresh.
func (s *SQLiteStore) AcceptRequest(ctx context.Context, id, collectorID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, collector_id = ?
		WHERE id = ? AND status = ?`,
		types.StatusAccepted, collectorID, id, types.StatusPending)
	if err != nil {
		return fmt.Errorf("accept failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("accept failed: %w", err)
	}
	if n == 0 {
		// Either the id is unknown or another collector already won.
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM requests WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return &types.ValidationError{Reason: fmt.Sprintf("request %s not found", id)}
		}
		if err != nil {
			return fmt.Errorf("accept failed: %w", err)
		}
		return nil
	}
	s.emitChange()
	return nil
}

// =============================================================================
// CHANGE FEED
// =============================================================================

// Subscribe attaches a new change-feed subscriber.
func (s *SQLiteStore) Subscribe() *Subscription {
	ch := make(chan ChangeEvent, 16)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return &Subscription{C: ch, ch: ch}
}

// Unsubscribe detaches a subscriber and closes its channel.
func (s *SQLiteStore) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, ch := range s.subs {
		if ch == sub.ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *SQLiteStore) emitChange() {
	ev := ChangeEvent{Seq: s.seq.Add(1), At: time.Now()}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; dropping is safe because any later
			// event triggers the same full refetch.
		}
	}
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
