package scylladb

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

type ScyllaDB struct {
	Session  *gocql.Session
	Keyspace string
}

// Connect opens a session on keyspace, creating the keyspace and the search
// tables when they do not exist yet.
func Connect(keyspace string, logger zerolog.Logger, hosts ...string) (*ScyllaDB, error) {
	if err := bootstrap(keyspace, hosts); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.One
	cluster.Timeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scylla: %w", err)
	}

	scylla := &ScyllaDB{
		Session:  session,
		Keyspace: keyspace,
	}

	if err := scylla.createTables(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	logger.Info().Str("keyspace", keyspace).Msg("✓ ScyllaDB tables created/verified")

	return scylla, nil
}

// bootstrap creates the keyspace through a keyspace-less session.
func bootstrap(keyspace string, hosts []string) error {
	cluster := gocql.NewCluster(hosts...)
	cluster.Consistency = gocql.One
	cluster.Timeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect to scylla: %w", err)
	}
	defer session.Close()

	keyspaceQuery := fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s
		WITH REPLICATION = {
			'class': 'SimpleStrategy',
			'replication_factor': 1
		}
	`, keyspace)
	if err := session.Query(keyspaceQuery).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", keyspace, err)
	}
	return nil
}

func (s *ScyllaDB) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS question_index (
			word text,
			question_id uuid,
			user_id text,
			term_frequency int,
			doc_length int,
			positions list<int>,
			PRIMARY KEY (word, question_id)
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			question_id uuid PRIMARY KEY,
			job_id text,
			user_id text,
			page_number int,
			ordinal int,
			text text,
			options list<text>,
			correct_index int,
			created_at timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS corpus_stats (
			id text PRIMARY KEY,
			question_count counter,
			token_count counter
		)`,
	}
	for _, q := range statements {
		if err := s.Session.Query(q).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScyllaDB) Close() {
	if s.Session != nil {
		s.Session.Close()
	}
}
