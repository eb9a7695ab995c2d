package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/pkg/types"
)

func TestNewConfig_DefaultsValid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Second, cfg.Reliability.RetryTimeout.Duration())
	assert.Equal(t, 3, cfg.Reliability.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Selector.RecoveryCooldown.Duration())
	assert.Equal(t, 30*time.Second, cfg.Selector.IdleTimeout.Duration())
	assert.Equal(t, 3*time.Second, cfg.NAT.Timeout.Duration())
	assert.Equal(t, 10, cfg.Liveness.SampleWindow)
	assert.Equal(t, 20.0, cfg.Validator.MaxSpeed)
	assert.Equal(t, 20, cfg.Validator.MaxFireRate)
	assert.Equal(t, 10, cfg.Validator.SuspicionThreshold)
	assert.Equal(t, 60, cfg.Compensator.MaxSnapshots)
	assert.Equal(t, 5.0, cfg.Compensator.MaxOffset)
	assert.Equal(t, types.RoleClient, cfg.RoleType())
}

func TestFromJSON_OverridesAndDurations(t *testing.T) {
	data := []byte(`{
		"role": "server",
		"reliability": {"retry_timeout": "500ms", "max_retries": 5, "dedup_window": "30s", "dedup_capacity": 16, "loss_window": 8},
		"nat": {"enable": true, "stun_server": "127.0.0.1:3478", "timeout": 2000000000}
	}`)

	cfg, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, types.RoleServer, cfg.RoleType())
	assert.Equal(t, 500*time.Millisecond, cfg.Reliability.RetryTimeout.Duration())
	assert.Equal(t, 5, cfg.Reliability.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.NAT.Timeout.Duration())
	// 未出现的子配置保留默认值
	assert.Equal(t, 20, cfg.Validator.MaxFireRate)
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte(`{"role": "observer"}`))
	assert.Error(t, err)

	_, err = FromJSON([]byte(`{"reliability": {"retry_timeout": "nope"}}`))
	assert.Error(t, err)
}

func TestValidate_DedupWindowCoversRetries(t *testing.T) {
	cfg := NewConfig()
	cfg.Reliability.DedupWindow = Duration(2 * time.Second)
	assert.Error(t, cfg.Validate())
}

func TestValidate_RelayNeedsURL(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport.EnableRelay = true
	assert.Error(t, cfg.Validate())

	cfg.Transport.RelayURL = "ws://127.0.0.1:9000/relay"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PositiveIntervals(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport.WriteTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Validator.MinSampleInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	assert.Equal(t, 50*time.Millisecond, cfg.Transport.WriteTimeout.Duration())
	assert.Equal(t, time.Second/60, cfg.Validator.MinSampleInterval.Duration())
}

func TestToJSON_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Role = "server"
	data, err := cfg.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"retry_timeout": "1s"`)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestParseDeliveryMode(t *testing.T) {
	m, err := ParseDeliveryMode("sequenced")
	require.NoError(t, err)
	assert.Equal(t, types.DeliverySequenced, m)

	_, err = ParseDeliveryMode("bogus")
	assert.Error(t, err)
}
