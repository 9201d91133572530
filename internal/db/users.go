package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// SafeUsername normalizes a display name for lookups: lowercased,
// trimmed, spaces become underscores. The users table keeps both forms.
func SafeUsername(username string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(username)), " ", "_")
}

const userColumns = `id, username, username_safe, password_hash, privileges,
	whitelist, country, silence_end, silence_reason, latest_activity`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.SafeUsername, &u.PasswordHash, &u.Privileges,
		&u.Whitelist, &u.Country, &u.SilenceEnd, &u.SilenceReason, &u.LatestActivity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByName retrieves a user by display name.
// Returns nil, nil if the user does not exist.
func (d *DB) GetUserByName(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(d.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username_safe = $1`,
		SafeUsername(username),
	))
	if err != nil {
		return nil, fmt.Errorf("querying user %q: %w", username, err)
	}
	return u, nil
}

// GetUserByID retrieves a user by id.
// Returns nil, nil if the user does not exist.
func (d *DB) GetUserByID(ctx context.Context, userID int32) (*User, error) {
	u, err := scanUser(d.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID,
	))
	if err != nil {
		return nil, fmt.Errorf("querying user %d: %w", userID, err)
	}
	return u, nil
}

// GetPrivileges returns the current privilege bits for a user, 0 when
// the user does not exist.
func (d *DB) GetPrivileges(ctx context.Context, userID int32) (int32, error) {
	var privileges int32
	err := d.pool.QueryRow(ctx,
		`SELECT privileges FROM users WHERE id = $1`, userID,
	).Scan(&privileges)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying privileges for %d: %w", userID, err)
	}
	return privileges, nil
}

// UpdateLatestActivity stamps the user's last seen time.
func (d *DB) UpdateLatestActivity(ctx context.Context, userID int32) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE users SET latest_activity = $1 WHERE id = $2`,
		time.Now(), userID,
	)
	if err != nil {
		return fmt.Errorf("updating latest activity for %d: %w", userID, err)
	}
	return nil
}

// SetSilence persists a silence window. A zero end time lifts the
// silence.
func (d *DB) SetSilence(ctx context.Context, userID int32, end time.Time, reason string) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE users SET silence_end = $1, silence_reason = $2 WHERE id = $3`,
		end, reason, userID,
	)
	if err != nil {
		return fmt.Errorf("updating silence for %d: %w", userID, err)
	}
	return nil
}

// GetFriends returns the ids the user has friended, ordered.
func (d *DB) GetFriends(ctx context.Context, userID int32) ([]int32, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT friend_id FROM friends WHERE user_id = $1 ORDER BY friend_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friends for %d: %w", userID, err)
	}
	defer rows.Close()

	friends := make([]int32, 0, 16)
	for rows.Next() {
		var friendID int32
		if err := rows.Scan(&friendID); err != nil {
			return nil, fmt.Errorf("scanning friend row: %w", err)
		}
		friends = append(friends, friendID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friend rows: %w", err)
	}
	return friends, nil
}

// AddFriend records a friendship; adding an existing friend is a no-op.
func (d *DB) AddFriend(ctx context.Context, userID, friendID int32) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO friends (user_id, friend_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		userID, friendID,
	)
	if err != nil {
		return fmt.Errorf("adding friend %d for %d: %w", friendID, userID, err)
	}
	return nil
}

// RemoveFriend removes a friendship; removing a stranger is a no-op.
func (d *DB) RemoveFriend(ctx context.Context, userID, friendID int32) error {
	_, err := d.pool.Exec(ctx,
		`DELETE FROM friends WHERE user_id = $1 AND friend_id = $2`,
		userID, friendID,
	)
	if err != nil {
		return fmt.Errorf("removing friend %d for %d: %w", friendID, userID, err)
	}
	return nil
}

// GetStats retrieves one user's numbers for a mode and special mode.
// Returns nil, nil when the user has no row yet.
func (d *DB) GetStats(ctx context.Context, userID int32, mode byte, special int16) (*Stats, error) {
	var s Stats
	err := d.pool.QueryRow(ctx,
		`SELECT ranked_score, total_score, playcount, accuracy, pp, game_rank
		 FROM user_stats WHERE user_id = $1 AND mode = $2 AND special_mode = $3`,
		userID, int16(mode), special,
	).Scan(&s.RankedScore, &s.TotalScore, &s.Playcount, &s.Accuracy, &s.PP, &s.GameRank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying stats for %d mode %d: %w", userID, mode, err)
	}
	return &s, nil
}

// UpsertStats writes one user's numbers for a mode and special mode.
func (d *DB) UpsertStats(ctx context.Context, userID int32, mode byte, special int16, s Stats) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO user_stats
		   (user_id, mode, special_mode, ranked_score, total_score, playcount, accuracy, pp, game_rank)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, mode, special_mode) DO UPDATE SET
		   ranked_score = EXCLUDED.ranked_score,
		   total_score  = EXCLUDED.total_score,
		   playcount    = EXCLUDED.playcount,
		   accuracy     = EXCLUDED.accuracy,
		   pp           = EXCLUDED.pp,
		   game_rank    = EXCLUDED.game_rank`,
		userID, int16(mode), special,
		s.RankedScore, s.TotalScore, s.Playcount, s.Accuracy, s.PP, s.GameRank,
	)
	if err != nil {
		return fmt.Errorf("upserting stats for %d mode %d: %w", userID, mode, err)
	}
	return nil
}

// CreateUser inserts a new user and returns its id.
func (d *DB) CreateUser(ctx context.Context, username, passwordHash string, privileges int32, country string) (int32, error) {
	var id int32
	err := d.pool.QueryRow(ctx,
		`INSERT INTO users (username, username_safe, password_hash, privileges, country)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		username, SafeUsername(username), passwordHash, privileges, country,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating user %q: %w", username, err)
	}
	return id, nil
}
