package database

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig_Apply(t *testing.T) {
	tests := []struct {
		name  string
		cfg   PoolConfig
		check func(t *testing.T, pc *pgxpool.Config)
	}{
		{
			name: "overrides",
			cfg: PoolConfig{
				ApplicationName:   "quizscan-extractor",
				MaxConns:          8,
				MinConns:          1,
				MaxConnLifetime:   10 * time.Minute,
				MaxConnIdleTime:   time.Minute,
				HealthCheckPeriod: 15 * time.Second,
				ConnectTimeout:    3 * time.Second,
			},
			check: func(t *testing.T, pc *pgxpool.Config) {
				assert.Equal(t, "quizscan-extractor", pc.ConnConfig.RuntimeParams["application_name"])
				assert.Equal(t, int32(8), pc.MaxConns)
				assert.Equal(t, int32(1), pc.MinConns)
				assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
				assert.Equal(t, time.Minute, pc.MaxConnIdleTime)
				assert.Equal(t, 15*time.Second, pc.HealthCheckPeriod)
				assert.Equal(t, 3*time.Second, pc.ConnConfig.ConnectTimeout)
			},
		},
		{
			name: "zero values keep the URL settings",
			cfg:  PoolConfig{},
			check: func(t *testing.T, pc *pgxpool.Config) {
				assert.Equal(t, int32(6), pc.MaxConns)
				assert.Equal(t, "from-url", pc.ConnConfig.RuntimeParams["application_name"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/quizscan?pool_max_conns=6&application_name=from-url")
			require.NoError(t, err)
			tt.cfg.apply(pc)
			tt.check(t, pc)
		})
	}
}
