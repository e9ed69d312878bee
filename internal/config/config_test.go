package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
server:
  port: 8080
store:
  driver: memory
jwt:
  secret: 0123456789abcdef0123456789abcdef
payment:
  webhook_secret: whsec
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "INR", cfg.Payment.Currency)
	assert.Equal(t, "simulated", cfg.Payment.Gateway)
	assert.Equal(t, 30*time.Minute, cfg.PaymentTimeout())
	assert.Equal(t, int32(200), cfg.Payment.StaleBatch)
	assert.Equal(t, int32(50), cfg.Payment.RefundBatch)
	assert.Equal(t, 10*time.Second, cfg.NotifyTimeout())
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL())
	assert.Equal(t, "0 */5 * * * *", cfg.Scheduler.CancelStalePayments)
	assert.Equal(t, int32(1), cfg.Risk.Policy.Version)
	assert.Equal(t, int32(40), cfg.Risk.Policy.Weights.UnknownSubject)
	assert.Empty(t, cfg.GetGRPCAddress())
}

func TestParse_RiskPolicyOverridesMergeWithDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
risk:
  policy:
    version: 3
    approve_below: 20
    weights:
      new_account: 25
`))
	require.NoError(t, err)
	assert.Equal(t, int32(3), cfg.Risk.Policy.Version)
	assert.Equal(t, int32(20), cfg.Risk.Policy.ApproveBelow)
	assert.Equal(t, int32(70), cfg.Risk.Policy.ReviewBelow)
	assert.Equal(t, int32(25), cfg.Risk.Policy.Weights.NewAccount)
	assert.Equal(t, int32(20), cfg.Risk.Policy.Weights.PriorViolation)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("GRPC_PORT", "9090")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "from-env")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.GetGRPCAddress())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "from-env", cfg.Payment.WebhookSecret)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "server: {port: 0}", "invalid server port"},
		{"postgres without host", `
server: {port: 8080}
jwt: {secret: 0123456789abcdef0123456789abcdef}
payment: {webhook_secret: x}`, "database host is required"},
		{"unknown driver", `
server: {port: 8080}
store: {driver: redis}`, "unknown store driver"},
		{"short secret", `
server: {port: 8080}
store: {driver: memory}
jwt: {secret: short}`, "at least 32 characters"},
		{"no webhook secret", `
server: {port: 8080}
store: {driver: memory}
jwt: {secret: 0123456789abcdef0123456789abcdef}`, "webhook secret is required"},
		{"inverted thresholds", minimal + `
risk: {policy: {approve_below: 80, review_below: 50}}`, "risk thresholds"},
		{"sendgrid incomplete", minimal + `
notification: {sendgrid: {api_key: SG.x}}`, "sendgrid requires"},
		{"same ports", `
server: {port: 8080, grpc_port: 8080}
store: {driver: memory}`, "invalid gRPC port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.GetServerAddress())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestGetSecurityLevel(t *testing.T) {
	assert.Equal(t, SecurityPublic, GetSecurityLevel("POST", "/api/v1/webhooks/payments/{gateway}"))
	assert.Equal(t, SecurityAccess, GetSecurityLevel("POST", "/api/v1/transactions"))
	assert.Equal(t, SecurityAdmin, GetSecurityLevel("POST", "/api/v1/admin/transactions/{id}/review"))
	assert.Equal(t, SecurityAdmin, GetSecurityLevel("DELETE", "/api/v1/unknown"))
}
