package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("RESERVA_TEST_KEY", "secret-key")

	yamlContent := `
database:
  path: "test.db"
api:
  enabled: true
  auth:
    enabled: true
    api_keys:
      - key: "${RESERVA_TEST_KEY}"
        extra: "extra"
        name: "frontdesk"
        tenant_id: "spa"
tenants:
  - id: "spa"
    timezone: "Europe/Berlin"
    capabilities: ["deposits", "reminders"]
    reminder_offsets: ["24h", "1h"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.API.Auth.APIKeys[0].Key)
	assert.Equal(t, "spa", cfg.API.Auth.APIKeys[0].TenantID)
	assert.True(t, cfg.API.HTTP.Enabled)
	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "09:00", cfg.Tenants[0].DefaultHours.Start)
	assert.Equal(t, 15, cfg.Tenants[0].SlotStepMinutes)
	assert.Equal(t, JobsBackendNone, cfg.Jobs.Backend)
}

func TestValidateConfig(t *testing.T) {
	tenant := TenantConfig{ID: "spa", Timezone: "UTC"}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Jobs:     JobsConfig{Backend: JobsBackendNone},
				Tenants:  []TenantConfig{tenant},
			},
		},
		{
			name: "missing database path",
			cfg: Config{
				Jobs: JobsConfig{Backend: JobsBackendNone},
			},
			wantErr: true,
		},
		{
			name: "asynq without redis",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Jobs:     JobsConfig{Backend: JobsBackendAsynq},
			},
			wantErr: true,
		},
		{
			name: "duplicate tenant id",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Jobs:     JobsConfig{Backend: JobsBackendNone},
				Tenants:  []TenantConfig{tenant, tenant},
			},
			wantErr: true,
		},
		{
			name: "api key for unknown tenant",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Jobs:     JobsConfig{Backend: JobsBackendNone},
				Tenants:  []TenantConfig{tenant},
				API: APIConfig{Auth: APIAuthConfig{APIKeys: []APIClientKey{
					{Key: "k", Name: "x", TenantID: "other"},
				}}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Tenants: []TenantConfig{{ID: "spa"}}}
	cfg.applyDefaults()

	assert.Equal(t, 8081, cfg.API.GRPC.Port)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, 3, cfg.Jobs.MaxRetry)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, "UTC", cfg.Tenants[0].Timezone)
	assert.Equal(t, 104, cfg.Tenants[0].MaxSeriesOccurrences)
}

func TestValidateTenants(t *testing.T) {
	tests := []struct {
		name    string
		tenants []TenantConfig
		wantErr bool
	}{
		{"valid", []TenantConfig{{ID: "a", Timezone: "UTC"}, {ID: "b", Timezone: "America/New_York"}}, false},
		{"empty id", []TenantConfig{{Name: "x", Timezone: "UTC"}}, true},
		{"bad timezone", []TenantConfig{{ID: "a", Timezone: "Mars/Olympus"}}, true},
		{"bad offset", []TenantConfig{{ID: "a", Timezone: "UTC", ReminderOffsets: []string{"soon"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenants(tt.tenants)
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}
