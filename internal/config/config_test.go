package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string) Config {
	t.Helper()

	var cfg Config
	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(env),
	})
	require.NoError(t, err)
	return cfg
}

func helloAssoEnv() map[string]string {
	return map[string]string{
		"GATEWAY_HELLOASSO_ORGANIZATION_SLUG": "asso",
		"GATEWAY_HELLOASSO_CLIENT_ID":         "id",
		"GATEWAY_HELLOASSO_CLIENT_SECRET":     "secret",
	}
}

func TestDefaults(t *testing.T) {
	cfg := load(t, helloAssoEnv())

	require.Equal(t, ProviderHelloAsso, cfg.Gateway.Provider)
	require.Equal(t, time.Hour, cfg.Reservation.TTL)
	require.Equal(t, 3, cfg.Reservation.MaxAttempts)
	require.Equal(t, 30, cfg.Reservation.SlotCapacity)
	require.Equal(t, 3*time.Minute, cfg.Workers.ReconcileInterval)
	require.Equal(t, 1, cfg.DB.MaxOpenConns)
	require.Equal(t, "0.0.0.0:8080", cfg.API.ADDR())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		noSecrets bool
		wantErr   string
	}{
		{
			name:      "helloasso without secrets",
			noSecrets: true,
			wantErr:   "helloasso requires",
		},
		{
			name: "helloasso with http redirect",
			env: map[string]string{
				"GATEWAY_REDIRECT_BASE_URL": "http://shop.example.com",
			},
			wantErr: "https",
		},
		{
			name: "yookassa allows http redirect",
			env: map[string]string{
				"GATEWAY_PROVIDER":            "yookassa",
				"GATEWAY_REDIRECT_BASE_URL":   "http://shop.example.com",
				"GATEWAY_YOOKASSA_SHOP_ID":    "1",
				"GATEWAY_YOOKASSA_SECRET_KEY": "k",
			},
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"GATEWAY_PROVIDER": "stripe"},
			wantErr: "unknown GATEWAY_PROVIDER",
		},
		{
			name:    "telegram without chat",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "t"},
			wantErr: "STAFF_CHAT_ID",
		},
		{
			name:    "zero capacity",
			env:     map[string]string{"RESERVATION_SLOT_CAPACITY": "0"},
			wantErr: "SLOT_CAPACITY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := helloAssoEnv()
			if tt.noSecrets {
				env = map[string]string{}
			}
			for k, v := range tt.env {
				env[k] = v
			}

			err := load(t, env).Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
