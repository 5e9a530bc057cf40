package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUCTION_STORAGE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Security.TokenExpiry)
	assert.Equal(t, 120, cfg.Security.RateLimit.RequestsPerMinute)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUCTION_STORAGE_DRIVER", "postgres")
	t.Setenv("AUCTION_STORAGE_URL", "postgres://localhost:5432/marketplace")
	t.Setenv("AUCTION_SERVER_PORT", "9999")
	t.Setenv("AUCTION_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/marketplace", cfg.Storage.URL)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres driver without url",
			env:     map[string]string{"AUCTION_STORAGE_DRIVER": "postgres"},
			wantErr: "storage.url is required",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"AUCTION_STORAGE_DRIVER": "sqlite"},
			wantErr: "unknown storage driver",
		},
		{
			name: "production without jwt secret",
			env: map[string]string{
				"AUCTION_STORAGE_DRIVER": "memory",
				"AUCTION_ENVIRONMENT":    "production",
			},
			wantErr: "jwt_secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
