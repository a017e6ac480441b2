package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var secret = strings.Repeat("s", 32)

func TestDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{"RECRUITD_AUTH_SECRET": secret})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 7*24*time.Hour, cfg.ApprovalTokenTTL)
	require.Equal(t, 15*time.Minute, cfg.ReaperInterval)
	require.Equal(t, 8, cfg.NotifyMaxAttempts)
	require.Empty(t, cfg.PGDSN)
}

func TestOverrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"RECRUITD_AUTH_SECRET":        secret,
		"RECRUITD_ADMIN_EMAILS":       "a@example.com,b@example.com",
		"RECRUITD_APPROVAL_TOKEN_TTL": "48h",
		"RECRUITD_REAPER_INTERVAL":    "0s",
		"RECRUITD_PUBLIC_BASE_URL":    "https://crm.example.com",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AdminEmails)
	require.Equal(t, 48*time.Hour, cfg.ApprovalTokenTTL)
	require.Zero(t, cfg.ReaperInterval)
	require.Equal(t, "https://crm.example.com", cfg.PublicBaseURL)
}

func TestValidation(t *testing.T) {
	_, err := FromMap(map[string]string{})
	require.ErrorContains(t, err, "RECRUITD_AUTH_SECRET")

	_, err = FromMap(map[string]string{"RECRUITD_AUTH_SECRET": secret, "RECRUITD_NOTIFY_BATCH": "0"})
	require.ErrorContains(t, err, "batch")

	_, err = FromMap(map[string]string{"RECRUITD_AUTH_SECRET": secret, "RECRUITD_SESSION_TTL": "soon"})
	require.ErrorContains(t, err, "parse env")
}
