package scylla

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"otp-service/internal/config"
	"otp-service/internal/util"

	"go.uber.org/zap"
)

// PreparedStatements holds the statements the GPO repository binds per call.
type PreparedStatements struct {
	CreateGpoConfirmation     *gocql.Query
	CreateGpoConfirmationCode *gocql.Query
	GetCodeByFingerprint      *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
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

	sc := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := sc.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return sc, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateGpoConfirmation = s.Session.Query(`
        INSERT INTO gpo_confirmations (
            entry_id, issuer, entry_ciphertext, entry_dek, entry_key_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.CreateGpoConfirmationCode = s.Session.Query(`
        INSERT INTO gpo_confirmation_codes (
            otp_fingerprint, code_id, profile_id, created_at
        ) VALUES (?, ?, ?, ?)`)

	prepared.GetCodeByFingerprint = s.Session.Query(`
        SELECT otp_fingerprint, code_id, profile_id, created_at
        FROM gpo_confirmation_codes
        WHERE otp_fingerprint = ?
        LIMIT 1`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

// ExecuteWithRetry runs a mutation, retrying transient failures.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, retries int) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = query.Exec(); err == nil {
			return nil
		}
		if attempt < retries {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return err
}

// ScanWithRetry runs a single-row read, retrying transient failures.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		if err = query.Scan(dest...); err == nil || err == gocql.ErrNotFound {
			return err
		}
		if attempt < 2 {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return err
}

func (s *ScyllaClient) HealthCheck() error {
	if s.Session == nil || s.Session.Closed() {
		return fmt.Errorf("scylla session is closed")
	}
	return s.Session.Query(`SELECT now() FROM system.local`).Exec()
}

func (s *ScyllaClient) Close() {
	if s.Session != nil && !s.Session.Closed() {
		s.Session.Close()
	}
}
