package integration

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/db"
)

// plebPrivileges is a plain unrestricted account.
const plebPrivileges = constants.UserPublic | constants.UserNormal

// testPasswordMD5 is the md5 digest the test client presents at login.
// Seeded user rows carry a bcrypt hash over it, the same shape the
// website writes.
const testPasswordMD5 = "0cc175b9c0f1b6a831c399e269772661"

// testClientInfo is the third login line: build, utc offset, display
// city flag, client hashes, friends-only dm flag.
const testClientInfo = "b20250815|2|0|hash|0"

// schemaCounter provides unique schema names for parallel suites.
var schemaCounter atomic.Uint32

// acquireSchema creates an isolated PostgreSQL schema and returns a DSN
// with search_path pointing at it. The schema is dropped via t.Cleanup.
func acquireSchema(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	schemaName := fmt.Sprintf("test_%d", schemaCounter.Add(1))

	conn, err := pgx.Connect(ctx, sharedPGBaseDSN)
	if err != nil {
		t.Fatalf("connect to shared postgres: %v", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+schemaName); err != nil {
		t.Fatalf("create schema %s: %v", schemaName, err)
	}

	t.Cleanup(func() {
		cleanCtx := context.Background()
		cleanConn, err := pgx.Connect(cleanCtx, sharedPGBaseDSN)
		if err != nil {
			t.Logf("cleanup: connect failed: %v", err)
			return
		}
		defer cleanConn.Close(cleanCtx)
		if _, err := cleanConn.Exec(cleanCtx, "DROP SCHEMA "+schemaName+" CASCADE"); err != nil {
			t.Logf("cleanup: drop schema %s: %v", schemaName, err)
		}
	})

	// Append search_path to DSN
	sep := "&"
	if !strings.Contains(sharedPGBaseDSN, "?") {
		sep = "?"
	}
	return sharedPGBaseDSN + sep + "search_path=" + schemaName
}

// seedUser inserts a user whose password is testPasswordMD5 and gives
// it a vanilla stats row so the login handshake has numbers to send.
func seedUser(t testing.TB, store *db.DB, username string, privileges int32) int32 {
	t.Helper()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPasswordMD5), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	id, err := store.CreateUser(ctx, username, string(hash), privileges, "XX")
	if err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	err = store.UpsertStats(ctx, id, constants.GameModeStd, db.SpecialModeVanilla, db.Stats{
		RankedScore: 1000,
		TotalScore:  2000,
		Playcount:   10,
		Accuracy:    95.5,
		PP:          100,
		GameRank:    1000,
	})
	if err != nil {
		t.Fatalf("seeding stats for %s: %v", username, err)
	}
	return id
}
