package scylla

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"reset-guard/internal/config"
	"reset-guard/internal/util"
)

// PreparedStatements holds the statements the directory actually
// runs. The directory is read-only from this service's point of
// view.
type PreparedStatements struct {
	GetAccountByEmail *gocql.Query
	GetAccountFactors *gocql.Query
}

type ScyllaClient struct {
	Session  *gocql.Session
	config   *config.ScyllaConfig
	Prepared *PreparedStatements
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}
	client.prepareStatements()

	util.Info("Scylla client initialized",
		util.String("keyspace", scyllaConfig.Keyspace),
		util.Int("nodes", len(scyllaConfig.Nodes)))

	return client, nil
}

func (c *ScyllaClient) prepareStatements() {
	c.Prepared = &PreparedStatements{
		GetAccountByEmail: c.Session.Query(
			`SELECT account_id, email, disabled, created_at, updated_at
			   FROM accounts WHERE email = ?`),
		GetAccountFactors: c.Session.Query(
			`SELECT account_id, factor_id, kind, phone_number, display_name, enrolled_at
			   FROM account_mfa_factors WHERE account_id = ?`),
	}
}

func (c *ScyllaClient) Close() {
	if c.Session != nil {
		c.Session.Close()
		util.Info("Scylla session closed")
	}
}

// HealthCheck runs a lightweight system query.
func (c *ScyllaClient) HealthCheck() error {
	var release string
	if err := c.Session.Query(`SELECT release_version FROM system.local`).Scan(&release); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}
