// Package dbtest cria um banco Postgres isolado por teste, já migrado.
// Os testes que dependem dele são pulados quando POSTGRES_TEST_DSN não está definido.
package dbtest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/radieske/fairdice-platform/internal/shared/db"
)

const EnvDSN = "POSTGRES_TEST_DSN"

// NewTestDB devolve uma conexão para um banco novo; o banco é removido no t.Cleanup.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	baseDSN := os.Getenv(EnvDSN)
	if baseDSN == "" {
		t.Skipf("%s not set; skipping postgres test", EnvDSN)
	}

	admin, err := sql.Open("postgres", baseDSN)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := sanitizeForPgIdent(uniqueDBName("dicetest", t.Name()))
	const maxAttempts = 5
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err = admin.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE "%s" WITH TEMPLATE template0 ENCODING 'UTF8'`, dbName))
		if err == nil {
			break
		}
		if !isDuplicate(err) || attempt == maxAttempts {
			_ = admin.Close()
			t.Fatalf("create database: %v", err)
		}
		dbName = sanitizeForPgIdent(uniqueDBName("dicetest", t.Name()))
	}

	testDSN, err := replaceDBInDSN(baseDSN, dbName)
	if err != nil {
		_ = admin.Close()
		t.Fatalf("test dsn: %v", err)
	}

	conn, err := db.ConnectPostgres(testDSN)
	if err != nil {
		_ = admin.Close()
		t.Fatalf("connect test db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		_ = conn.Close()
		_ = admin.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()

		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_, _ = admin.ExecContext(dctx, fmt.Sprintf(`DROP DATABASE IF EXISTS "%s" WITH (FORCE)`, dbName))
		_ = admin.Close()
	})

	return conn
}

func replaceDBInDSN(dsn, newDB string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	u.Path = "/" + newDB
	return u.String(), nil
}

func uniqueDBName(prefix, testName string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(testName))
	var rnd [6]byte
	_, _ = rand.Read(rnd[:])
	return fmt.Sprintf("%s_%08x_%s", prefix, h.Sum32(), hex.EncodeToString(rnd[:]))
}

func sanitizeForPgIdent(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_").Replace(s)
	if len(s) <= 63 {
		return s
	}
	return s[:31] + "_" + s[len(s)-31:]
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "42P04")
}
