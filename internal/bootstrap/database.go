package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/netops-go/config"
	"github.com/target/netops-go/internal/migrate"
)

// connectProbeTimeout bounds the startup liveness ping against Postgres and
// Redis. Services should fail fast when a backend is down rather than hang
// in an init that systemd will eventually kill.
const connectProbeTimeout = 5 * time.Second

// DatabaseConfig carries the backend settings into the connect helpers.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens the PostgreSQL pool and verifies it with a bounded ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", postgresDSN(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pc := cfg.DBConfig
	if pc.PoolMaxOpen > 0 {
		db.SetMaxOpenConns(pc.PoolMaxOpen)
	}
	if pc.PoolMaxIdle > 0 {
		db.SetMaxIdleConns(pc.PoolMaxIdle)
	}
	if pc.PoolConnLifetime > 0 {
		db.SetConnMaxLifetime(pc.PoolConnLifetime)
	}

	if err := probeBackend("database", db.PingContext, db); err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", pc.Host, "port", pc.Port, "database", pc.Name)
	}
	return db, nil
}

// probeBackend verifies a freshly opened backend with a bounded ping and
// closes it again when the ping fails, so callers never hold a dead handle.
func probeBackend(name string, ping func(context.Context) error, conn io.Closer) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectProbeTimeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close %s client: %w", name, closeErr))
		}
		return fmt.Errorf("ping %s: %w", name, err)
	}
	return nil
}

// postgresDSN builds the connection URL. Credentials go through url.URL so
// passwords with reserved characters survive.
func postgresDSN(pc config.DBConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pc.User, pc.Password),
		Host:     net.JoinHostPort(pc.Host, strconv.Itoa(pc.Port)),
		Path:     "/" + pc.Name,
		RawQuery: url.Values{"sslmode": []string{pc.SSLMode}}.Encode(),
	}
	return u.String()
}

// ConnectRedis builds the broker client for whichever topology the config
// selects (cluster, sentinel, or a single node) and verifies it with a
// bounded ping.
//
//nolint:ireturn // redis.UniversalClient is the common surface of the three client kinds.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	var (
		client redis.UniversalClient
		desc   string
		err    error
	)
	switch {
	case cfg.RedisConfig.UseCluster:
		client, desc, err = clusterClient(cfg.RedisConfig)
	case cfg.RedisConfig.UseSentinel:
		client, desc, err = sentinelClient(cfg.RedisConfig)
	default:
		client, desc, err = directClient(cfg.RedisConfig)
	}
	if err != nil {
		return nil, err
	}

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := probeBackend("redis", ping, client); err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", redactAddr(desc))
	}
	return client, nil
}

//nolint:ireturn // see ConnectRedis.
func clusterClient(rc config.RedisConfig) (redis.UniversalClient, string, error) {
	opts := &redis.ClusterOptions{Password: rc.Password}
	for _, addr := range rc.ClusterNodes {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			opts.Addrs = append(opts.Addrs, trimmed)
		}
	}

	// CLUSTER_NODES empty but a redis:// URI present: bootstrap the cluster
	// from that single seed, honoring its credentials and TLS settings.
	if len(opts.Addrs) == 0 {
		if seed := strings.TrimSpace(rc.URI); seed != "" {
			if !isRedisURL(seed) {
				opts.Addrs = []string{seed}
			} else {
				parsed, err := redis.ParseURL(seed)
				if err != nil {
					return nil, "", fmt.Errorf("parse redis cluster url: %w", err)
				}
				opts.Addrs = []string{parsed.Addr}
				opts.Username = parsed.Username
				if parsed.Password != "" {
					opts.Password = parsed.Password
				}
				if parsed.TLSConfig != nil {
					opts.TLSConfig = parsed.TLSConfig.Clone()
				}
			}
		}
	}
	if len(opts.Addrs) == 0 {
		return nil, "", errors.New("redis cluster configuration requires at least one address")
	}
	return redis.NewClusterClient(opts), "cluster:" + strings.Join(opts.Addrs, ","), nil
}

//nolint:ireturn // see ConnectRedis.
func sentinelClient(rc config.RedisConfig) (redis.UniversalClient, string, error) {
	if len(rc.SentinelNodes) == 0 {
		return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
	}
	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       rc.SentinelMasterName,
		SentinelAddrs:    rc.SentinelNodes,
		Password:         rc.Password,
		SentinelPassword: rc.SentinelPassword,
		DB:               0,
	})
	return client, "sentinel:" + rc.SentinelMasterName, nil
}

//nolint:ireturn // see ConnectRedis.
func directClient(rc config.RedisConfig) (redis.UniversalClient, string, error) {
	uri := strings.TrimSpace(rc.URI)
	if uri == "" {
		return nil, "", errors.New("redis direct configuration requires a URI")
	}
	if isRedisURL(uri) {
		opt, err := redis.ParseURL(uri)
		if err != nil {
			return nil, "", fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), opt.Addr, nil
	}
	return redis.NewClient(&redis.Options{Addr: uri, Password: rc.Password, DB: 0}), uri, nil
}

func isRedisURL(value string) bool {
	return strings.HasPrefix(value, "redis://") || strings.HasPrefix(value, "rediss://")
}

// redactAddr strips credentials from a connection description before it is
// logged.
func redactAddr(desc string) string {
	if u, err := url.Parse(desc); err == nil && u.User != nil {
		u.User = url.User("*")
		return u.Redacted()
	}
	if i := strings.LastIndex(desc, "@"); i > -1 {
		return desc[i+1:]
	}
	return desc
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
