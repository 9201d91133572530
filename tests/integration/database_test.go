package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/db"
)

// DatabaseSuite exercises the user store against a real schema. The
// unit tests cover query semantics; this suite covers what only the
// schema enforces.
type DatabaseSuite struct {
	IntegrationSuite
}

// TestRealAccountsStartAtServiceBoundary verifies the id sequence
// leaves room for service accounts such as the chat bot.
func (s *DatabaseSuite) TestRealAccountsStartAtServiceBoundary() {
	first := seedUser(s.T(), s.db, "cookiezi", plebPrivileges)
	second := seedUser(s.T(), s.db, "white cat", plebPrivileges)

	s.GreaterOrEqual(first, int32(constants.MinHumanUserID))
	s.Greater(second, first)
}

// TestDuplicateUsernameRejected covers the username_safe unique index:
// names that normalize to the same safe form collide even when the
// display forms differ.
func (s *DatabaseSuite) TestDuplicateUsernameRejected() {
	seedUser(s.T(), s.db, "White Cat", plebPrivileges)

	_, err := s.db.CreateUser(s.ctx, "white cat", "$2b$12$x", plebPrivileges, "XX")
	s.Error(err, "colliding safe name must violate the unique index")
}

// TestDeleteUserCascades verifies stats and friend rows follow their
// user out. The website deletes accounts directly in SQL, so the
// schema has to clean up, not the application.
func (s *DatabaseSuite) TestDeleteUserCascades() {
	alice := seedUser(s.T(), s.db, "alice", plebPrivileges)
	bob := seedUser(s.T(), s.db, "bob", plebPrivileges)
	s.Require().NoError(s.db.AddFriend(s.ctx, alice, bob))
	s.Require().NoError(s.db.AddFriend(s.ctx, bob, alice))

	_, err := s.db.Pool().Exec(s.ctx, "DELETE FROM users WHERE id = $1", alice)
	s.Require().NoError(err)

	var statsRows, friendRows int
	s.Require().NoError(s.db.Pool().QueryRow(s.ctx,
		"SELECT count(*) FROM user_stats WHERE user_id = $1", alice).Scan(&statsRows))
	s.Require().NoError(s.db.Pool().QueryRow(s.ctx,
		"SELECT count(*) FROM friends WHERE user_id = $1 OR friend_id = $1", alice).Scan(&friendRows))
	s.Zero(statsRows)
	s.Zero(friendRows)

	// Bob's own row is untouched.
	u, err := s.db.GetUserByID(s.ctx, bob)
	s.Require().NoError(err)
	s.NotNil(u)
}

// TestFriendRowsRequireUsers covers the foreign keys on the friends
// table.
func (s *DatabaseSuite) TestFriendRowsRequireUsers() {
	alice := seedUser(s.T(), s.db, "alice", plebPrivileges)

	err := s.db.AddFriend(s.ctx, alice, 999999)
	s.Error(err, "friending a nonexistent user must violate the foreign key")
}

// TestMigrationsAreIdempotent reruns the migrations over an already
// migrated schema, as every replica does at startup.
func (s *DatabaseSuite) TestMigrationsAreIdempotent() {
	s.Require().NoError(db.RunMigrations(s.ctx, s.dsn))

	// The schema still works afterwards.
	id := seedUser(s.T(), s.db, "survivor", plebPrivileges)
	u, err := s.db.GetUserByID(s.ctx, id)
	s.Require().NoError(err)
	s.NotNil(u)
}

// TestConcurrentUserCreation runs parallel inserts to confirm the
// sequence and unique indexes hold up under concurrent signups.
func (s *DatabaseSuite) TestConcurrentUserCreation() {
	const users = 10

	var g errgroup.Group
	ids := make([]int32, users)
	for i := range users {
		g.Go(func() error {
			id, err := s.db.CreateUser(s.ctx,
				fmt.Sprintf("player%d", i), "$2b$12$x", plebPrivileges, "XX")
			if err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	seen := make(map[int32]bool, users)
	for _, id := range ids {
		s.False(seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
}

// TestSilencePersistsAcrossConnections writes a silence through one
// pool and reads it through a fresh one, as separate replicas would.
func (s *DatabaseSuite) TestSilencePersistsAcrossConnections() {
	alice := seedUser(s.T(), s.db, "alice", plebPrivileges)
	end := time.Now().Add(10 * time.Minute)
	s.Require().NoError(s.db.SetSilence(s.ctx, alice, end, "Spamming (auto spam protection)"))

	other, err := db.New(s.ctx, s.dsn)
	s.Require().NoError(err)
	defer other.Close()

	u, err := other.GetUserByID(s.ctx, alice)
	s.Require().NoError(err)
	s.Require().NotNil(u)
	s.InDelta(600, u.SilenceSecondsLeft(time.Now()), 5)
	s.Equal("Spamming (auto spam protection)", u.SilenceReason)
}

// TestDatabaseSuite is the entry point for DatabaseSuite.
func TestDatabaseSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	suite.Run(t, new(DatabaseSuite))
}
