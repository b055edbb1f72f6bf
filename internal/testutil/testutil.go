package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	// Register pgx as a database/sql driver for the harness connections.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/target/netops-go/internal/migrate"
)

// TestingTB is the subset of testing.TB the harness needs. *testing.T and
// *testing.B both satisfy it.
type TestingTB interface {
	Helper()
	Cleanup(func())
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// TestDBConfig points the harness at the Postgres instance tests run against.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* overrides and falls back to the
// docker-compose test profile database on port 55432. CI sets
// TEST_DB_PORT=5432 to reuse its service container.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "netops"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "netops"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "netops"),
	}
}

// dsn renders the config as a pgx connection string. Extra query parameters
// (search_path for ephemeral schemas) are appended after sslmode.
func (c TestDBConfig) dsn(params ...[2]string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", getEnvOrDefault("DB_SSL_MODE", "disable"))
	for _, p := range params {
		q.Set(p[0], p[1])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SkipIfNoTestDB skips the test unless the test database answers a ping.
// TEST_REQUIRE_DB (or TEST_REQUIRE_INFRA) promotes the skip to a failure so
// CI notices a broken database instead of silently skipping the suite.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn())
	if err == nil {
		defer closeQuietly(t, "probe connection", db)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = db.PingContext(ctx)
	}
	if err != nil {
		if requireDB() {
			t.Fatal("test database not available:", err)
		}
		t.Skip("test database not available:", err)
	}
}

// WithAutoDB hands fn a migrated database connection. The default mode
// shares the configured test database and wipes its rows around each test;
// TEST_DB_EPHEMERAL=1 gives every test a throwaway schema instead, which
// lets packages run in parallel against one server.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)

	if envBool("TEST_DB_EPHEMERAL") {
		fn(setupEphemeralSchema(t))
		return
	}

	db := setupSharedDB(t)
	defer func() {
		wipeTables(t, db)
		closeQuietly(t, "test database", db)
	}()
	fn(db)
}

func setupSharedDB(t TestingTB) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn())
	if err != nil {
		t.Fatal("open test database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		closeQuietly(t, "test database", db)
		t.Fatal("connect to test database (is the compose test profile up?):", pingErr)
	}
	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		closeQuietly(t, "test database", db)
		t.Fatal("migrate test database:", migrateErr)
	}

	wipeTables(t, db)
	return db
}

// tableWipeOrder lists every table the suites write, children before
// parents so the deletes never trip a foreign key.
var tableWipeOrder = []string{
	"optical_power_readings",
	"device_interfaces",
	"devices",
	"device_group_members",
	"device_groups",
	"scheduler_job_executions",
	"scheduler_jobs",
	"job_definitions",
}

func wipeTables(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range tableWipeOrder {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("wipe %s: %v", table, err)
		}
	}
}

// setupEphemeralSchema creates a schema named t_<hex> on the shared server,
// connects with search_path pointing at it, migrates, and registers a
// Cleanup that drops the whole schema.
func setupEphemeralSchema(t TestingTB) *sql.DB {
	t.Helper()

	cfg := DefaultTestDBConfig()

	admin, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		t.Fatal("open admin connection:", err)
	}

	schema := randomSchemaName()
	createCtx, createCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer createCancel()
	if _, err := admin.ExecContext(createCtx, "CREATE SCHEMA "+schema); err != nil {
		closeQuietly(t, "admin connection", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db, err := sql.Open("pgx", cfg.dsn([2]string{"search_path", schema + ",public"}))
	if err != nil {
		closeQuietly(t, "admin connection", admin)
		t.Fatal("open schema connection:", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// Registered before migrating so a failed migration still drops the schema.
	t.Logf("using ephemeral schema %s", schema)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		closeQuietly(t, "schema connection", db)
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
		closeQuietly(t, "admin connection", admin)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		t.Fatal("connect to ephemeral schema:", pingErr)
	}
	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		t.Fatal("migrate ephemeral schema:", migrateErr)
	}
	return db
}

func randomSchemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

// SetupTestRedis connects to the test Redis on a reserved database index
// and flushes it. Tests skip when no Redis answers, unless
// TEST_REQUIRE_REDIS (or TEST_REQUIRE_INFRA) promotes the skip to a failure.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := resolveRedisAddr(t)
	if !ok {
		if requireRedis() {
			t.Fatal("redis not available for testing")
		}
		t.Skip("redis not available for testing")
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   reserveRedisDB(t, addr),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeQuietly(t, "redis client", client)
		if requireRedis() {
			t.Fatalf("redis not available at %s: %v", addr, err)
		}
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	client.FlushDB(ctx)

	return client
}

// resolveRedisAddr finds a reachable Redis for tests: REDIS_ADDR wins, then
// the compose service name and localhost on the default port, then the
// compose test profile port.
func resolveRedisAddr(t TestingTB) (string, bool) {
	t.Helper()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr, pingRedis(t, addr)
	}
	for _, addr := range []string{"redis:6379", "localhost:6379", "localhost:56379"} {
		if pingRedis(t, addr) {
			return addr, true
		}
	}
	return "", false
}

func pingRedis(t TestingTB, addr string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer closeQuietly(t, "redis probe", client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

// reserveRedisDB picks the logical database SetupTestRedis hands out.
// TEST_REDIS_DB pins it. Otherwise the harness reserves one of DB 1-15 by
// taking a lock key in DB 0, so concurrent test packages on one server
// cannot FlushDB each other; the reservation is released in Cleanup and
// expires on its own if the process dies first.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer closeQuietly(t, "redis meta client", meta)

	for i := 1; i <= 15; i++ {
		lockKey := fmt.Sprintf("netops:testutil:db_lock:%d", i)
		lockVal := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, lockKey, lockVal, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}

		t.Cleanup(func() {
			c := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.Del(ctx, lockKey).Err(); err != nil {
				t.Logf("warning: release redis db lock %s: %v", lockKey, err)
			}
			closeQuietly(t, "redis cleanup client", c)
		})
		t.Logf("reserved redis db %d at %s", i, addr)
		return i
	}

	t.Logf("no free redis db at %s, falling back to db 1", addr)
	return 1
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envBool accepts the truthy spellings used across the Makefile and CI.
func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

func closeQuietly(t TestingTB, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		t.Logf("warning: close %s: %v", name, err)
	}
}

// TestTime is the fixed instant fixtures are anchored to.
func TestTime() time.Time {
	return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
}

// StringPtr returns a pointer to s, for optional fixture fields.
func StringPtr(s string) *string { return &s }
