package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.PORequireApproval)
	require.True(t, cfg.POTaxRate.IsZero())
	require.Equal(t, "IDR", cfg.POCurrency)
	require.Equal(t, 10*time.Minute, cfg.PolicyCacheTTL)
	require.Equal(t, "*/30 * * * *", cfg.EscalationScanCron)
	require.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	require.Equal(t, 3, cfg.SequenceRetry().MaxAttempts)
	require.Equal(t, 25*time.Millisecond, cfg.SequenceRetry().Backoff)
	require.Equal(t, 4*time.Hour, cfg.EscalationThresholds()[requisition.PriorityUrgent])
	require.Equal(t, 168*time.Hour, cfg.EscalationThresholds()[requisition.PriorityLow])
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PO_TAX_RATE", "0.11")
	t.Setenv("PO_REQUIRE_APPROVAL", "false")
	t.Setenv("CONVERSION_MAX_ATTEMPTS", "5")
	t.Setenv("ESCALATION_HIGH", "12h")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "0.11", cfg.POTaxRate.String())
	require.False(t, cfg.PORequireApproval)
	require.Equal(t, 5, cfg.ConversionRetry().MaxAttempts)
	require.Equal(t, 12*time.Hour, cfg.EscalationThresholds()[requisition.PriorityHigh])
}

func TestLoadConfigRejectsBadTaxRate(t *testing.T) {
	t.Setenv("PO_TAX_RATE", "1.5")
	_, err := LoadConfig()
	require.Error(t, err)
}
