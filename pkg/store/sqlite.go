package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"takeforge/pkg/db"
	"takeforge/pkg/model"
)

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		sess.CreatedAt = createdAt
	}
	if sess.Status == "" {
		sess.Status = model.StatusDraft
	}
	sess.UpdatedAt = createdAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, title, project, status, source_script, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Project, sess.Status, sess.Source, createdAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i, b := range sess.Beats {
		linesJSON, err := json.Marshal(b.Lines)
		if err != nil {
			return fmt.Errorf("marshal lines for beat %s: %w", b.ID, err)
		}
		var overrideJSON sql.NullString
		if b.Override != nil {
			data, err := json.Marshal(b.Override)
			if err != nil {
				return fmt.Errorf("marshal override for beat %s: %w", b.ID, err)
			}
			overrideJSON = sql.NullString{String: string(data), Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO beats (session_id, beat_id, ord, seq, name, character, combined_script,
			                    direction, pace, pause_after_ms, override, lines)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, b.ID, i, b.Seq, b.Name, b.Character, b.CombinedScript,
			b.Direction, b.Pace, b.PauseAfterMs, overrideJSON, string(linesJSON),
		)
		if err != nil {
			return fmt.Errorf("insert beat %s: %w", b.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, project, status, source_script, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	var sess model.Session
	var updatedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.Title, &sess.Project, &sess.Status, &sess.Source,
		&sess.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if updatedAt.Valid {
		sess.UpdatedAt = updatedAt.Time
	}

	beats, err := s.beatsForSession(ctx, id)
	if err != nil {
		return nil, err
	}

	takesByBeat, err := s.takesBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range beats {
		beats[i].Takes = takesByBeat[beats[i].ID]
	}
	sess.Beats = beats

	return &sess, nil
}

// beatsForSession loads the immutable beat definitions in parse order.
func (s *SQLiteStore) beatsForSession(ctx context.Context, sessionID string) ([]model.Beat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT beat_id, seq, name, character, combined_script, direction, pace,
		        pause_after_ms, override, lines
		 FROM beats WHERE session_id = ? ORDER BY ord`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beats []model.Beat
	for rows.Next() {
		var b model.Beat
		var overrideJSON sql.NullString
		var linesJSON string
		err := rows.Scan(&b.ID, &b.Seq, &b.Name, &b.Character, &b.CombinedScript,
			&b.Direction, &b.Pace, &b.PauseAfterMs, &overrideJSON, &linesJSON)
		if err != nil {
			return nil, err
		}
		if linesJSON != "" {
			if err := json.Unmarshal([]byte(linesJSON), &b.Lines); err != nil {
				return nil, fmt.Errorf("unmarshal lines for beat %s: %w", b.ID, err)
			}
		}
		if overrideJSON.Valid {
			var o model.ParamOverride
			if err := json.Unmarshal([]byte(overrideJSON.String), &o); err != nil {
				return nil, fmt.Errorf("unmarshal override for beat %s: %w", b.ID, err)
			}
			b.Override = &o
		}
		beats = append(beats, b)
	}
	return beats, rows.Err()
}

// takesBySession groups all persisted takes of a session by beat id.
func (s *SQLiteStore) takesBySession(ctx context.Context, sessionID string) (map[string][]model.Take, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, beat_id, path, format, duration_ms,
		        stability, similarity, style, speed, direction, is_selected, created_at
		 FROM takes WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.Take)
	for rows.Next() {
		t, err := scanTake(rows)
		if err != nil {
			return nil, err
		}
		out[t.BeatID] = append(out[t.BeatID], t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid session status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// --- Takes ---

func (s *SQLiteStore) SaveTake(ctx context.Context, t *model.Take) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		t.CreatedAt = createdAt
	}

	// Takes are append-only: plain INSERT, never REPLACE.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO takes (id, session_id, beat_id, path, format, duration_ms,
		                    stability, similarity, style, speed, direction, is_selected, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.BeatID, t.Path, t.Format, t.DurationMs,
		t.Params.Stability, t.Params.Similarity, t.Params.Style, t.Params.Speed,
		t.Direction, t.IsSelected, createdAt,
	)
	return err
}

func (s *SQLiteStore) TakesForBeat(ctx context.Context, sessionID, beatID string) ([]model.Take, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, beat_id, path, format, duration_ms,
		        stability, similarity, style, speed, direction, is_selected, created_at
		 FROM takes WHERE session_id = ? AND beat_id = ? ORDER BY created_at, rowid`,
		sessionID, beatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var takes []model.Take
	for rows.Next() {
		t, err := scanTake(rows)
		if err != nil {
			return nil, err
		}
		takes = append(takes, t)
	}
	return takes, rows.Err()
}

func (s *SQLiteStore) CountTakes(ctx context.Context, sessionID, beatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM takes WHERE session_id = ? AND beat_id = ?`,
		sessionID, beatID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) SelectTake(ctx context.Context, sessionID, beatID, takeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Selecting first proves the take belongs to the beat before anything
	// is deselected.
	res, err := tx.ExecContext(ctx,
		`UPDATE takes SET is_selected = 1 WHERE id = ? AND session_id = ? AND beat_id = ?`,
		takeID, sessionID, beatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("take %s in beat %s: %w", takeID, beatID, ErrTakeNotFoundForBeat)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE takes SET is_selected = 0 WHERE session_id = ? AND beat_id = ? AND id <> ?`,
		sessionID, beatID, takeID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func scanTake(rows *sql.Rows) (model.Take, error) {
	var t model.Take
	err := rows.Scan(&t.ID, &t.SessionID, &t.BeatID, &t.Path, &t.Format, &t.DurationMs,
		&t.Params.Stability, &t.Params.Similarity, &t.Params.Style, &t.Params.Speed,
		&t.Direction, &t.IsSelected, &t.CreatedAt)
	return t, err
}

// --- Voice Profiles ---

func (s *SQLiteStore) GetProfile(ctx context.Context, character string) (*model.VoiceProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT character, voice_id, display_name, description,
		        stability, similarity, style, speed, created_at, updated_at
		 FROM voice_profiles WHERE character = ?`, character)

	var p model.VoiceProfile
	var updatedAt sql.NullTime
	err := row.Scan(&p.Character, &p.VoiceID, &p.DisplayName, &p.Description,
		&p.Params.Stability, &p.Params.Similarity, &p.Params.Style, &p.Params.Speed,
		&p.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p *model.VoiceProfile) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO voice_profiles (character, voice_id, display_name, description,
	                                      stability, similarity, style, speed, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(character) DO UPDATE SET
	          voice_id=excluded.voice_id,
	          display_name=excluded.display_name,
	          description=excluded.description,
	          stability=excluded.stability,
	          similarity=excluded.similarity,
	          style=excluded.style,
	          speed=excluded.speed,
	          updated_at=excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		p.Character, p.VoiceID, p.DisplayName, p.Description,
		p.Params.Stability, p.Params.Similarity, p.Params.Style, p.Params.Speed,
		createdAt, time.Now(),
	)
	return err
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]model.VoiceProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT character, voice_id, display_name, description,
		        stability, similarity, style, speed, created_at, updated_at
		 FROM voice_profiles ORDER BY character`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []model.VoiceProfile
	for rows.Next() {
		var p model.VoiceProfile
		var updatedAt sql.NullTime
		err := rows.Scan(&p.Character, &p.VoiceID, &p.DisplayName, &p.Description,
			&p.Params.Stability, &p.Params.Similarity, &p.Params.Style, &p.Params.Speed,
			&p.CreatedAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			p.UpdatedAt = updatedAt.Time
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
