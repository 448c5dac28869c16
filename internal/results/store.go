// internal/results/store.go
//
// Finished rounds in SQLite.
// Responsibilities:
//   - Record one row per finished round (instance id + round number is unique,
//     so a duplicate report is ignored).
//   - Bump the learner's counters (games played, perfect games, perfect streak)
//     in the same transaction when the round belongs to an account.
//   - List a learner's recent results and a per-game leaderboard.
//   - Move guest results to an account after signup/login.

package results

import (
	"context"
	"database/sql"
	"errors"

	"github.com/robalobadob/skillgames/internal/session"
)

// Owner is who played: an account, a guest cookie, or both unknown.
type Owner struct {
	UserID string
	AnonID string
}

// Empty reports whether neither id is set.
func (o Owner) Empty() bool { return o.UserID == "" && o.AnonID == "" }

// ID is the identity used for hand-off slots: the account when logged in.
func (o Owner) ID() string {
	if o.UserID != "" {
		return o.UserID
	}
	return o.AnonID
}

// Result is one stored round.
type Result struct {
	InstanceID string `json:"instanceId"`
	Round      int    `json:"round"`
	GameID     string `json:"gameId"`
	Score      int    `json:"score"`
	MaxScore   int    `json:"maxScore"`
	ElapsedMs  int64  `json:"elapsedMs"`
	TimedOut   bool   `json:"timedOut"`
	CreatedAt  string `json:"createdAt"`
}

// LBRow is one leaderboard line.
type LBRow struct {
	Player    string `json:"player"`
	Score     int    `json:"score"`
	MaxScore  int    `json:"maxScore"`
	ElapsedMs int64  `json:"elapsedMs"`
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Insert records a finished round for owner.
func (s *Store) Insert(ctx context.Context, owner Owner, rep session.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO results(instance_id, round, game_id, user_id, anonymous_id, score, max_score, elapsed_ms, timed_out)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rep.InstanceID, rep.Round, rep.GameID, nullable(owner.UserID), nullable(owner.AnonID),
		rep.Score, rep.MaxScore, rep.Elapsed.Milliseconds(), rep.TimedOut,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if owner.UserID != "" {
		if err := bumpStats(ctx, tx, owner.UserID, rep.MaxScore > 0 && rep.Score == rep.MaxScore); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// bumpStats increments games played; a perfect round extends the streak,
// anything else resets it.
func bumpStats(ctx context.Context, tx *sql.Tx, userID string, perfect bool) error {
	var played, perfects, streak int
	row := tx.QueryRowContext(ctx, `SELECT games_played, perfect_games, streak FROM users WHERE id=?`, userID)
	if err := row.Scan(&played, &perfects, &streak); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	played++
	if perfect {
		perfects++
		streak++
	} else {
		streak = 0
	}
	_, err := tx.ExecContext(ctx, `UPDATE users SET games_played=?, perfect_games=?, streak=? WHERE id=?`,
		played, perfects, streak, userID)
	return err
}

// ForOwner lists the owner's results, newest first.
func (s *Store) ForOwner(ctx context.Context, owner Owner, limit int) ([]Result, error) {
	clause, arg := `anonymous_id=?`, owner.AnonID
	if owner.UserID != "" {
		clause, arg = `user_id=?`, owner.UserID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, round, game_id, score, max_score, elapsed_ms, timed_out, created_at
		 FROM results WHERE `+clause+` ORDER BY created_at DESC, id DESC LIMIT ?`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Result{}
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.InstanceID, &r.Round, &r.GameID, &r.Score, &r.MaxScore, &r.ElapsedMs, &r.TimedOut, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Leaderboard ranks a game's rounds by score, then time, then who was first.
// Guests appear as "guest".
func (s *Store) Leaderboard(ctx context.Context, gameID string, limit int) ([]LBRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(u.username, 'guest'), r.score, r.max_score, r.elapsed_ms
		 FROM results r LEFT JOIN users u ON u.id = r.user_id
		 WHERE r.game_id=?
		 ORDER BY r.score DESC, r.elapsed_ms ASC, r.created_at ASC, r.id ASC
		 LIMIT ?`, gameID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LBRow{}
	for rows.Next() {
		var r LBRow
		if err := rows.Scan(&r.Player, &r.Score, &r.MaxScore, &r.ElapsedMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimAnon moves a guest's results to an account.
func (s *Store) ClaimAnon(ctx context.Context, anonID, userID string) error {
	if anonID == "" || userID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE results SET user_id=?, anonymous_id=NULL WHERE anonymous_id=?`, userID, anonID)
	return err
}

// Reporter binds the store to one owner so a game instance can report into it.
func (s *Store) Reporter(owner Owner) session.Reporter {
	return reporter{store: s, owner: owner}
}

type reporter struct {
	store *Store
	owner Owner
}

func (r reporter) Report(ctx context.Context, rep session.Report) error {
	return r.store.Insert(ctx, r.owner, rep)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
