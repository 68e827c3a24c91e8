package storage_test

import (
	"testing"

	"perishable-ledger/core/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		ssl      bool
	}{
		{"Plain", "localhost:9000", false},
		{"EndpointWithHTTP", "http://localhost:9000", false},
		{"EndpointWithHTTPS", "https://s3.amazonaws.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := storage.NewClient(storage.Config{
				Endpoint:  tt.endpoint,
				AccessKey: "testkey",
				SecretKey: "testsecret",
				UseSSL:    tt.ssl,
				Region:    "us-east-1",
			})
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestNewClient_Disabled(t *testing.T) {
	cfg := storage.Config{}
	assert.False(t, cfg.Enabled())
	_, err := storage.NewClient(cfg)
	assert.Error(t, err)
}

func TestConfig_Timeout(t *testing.T) {
	assert.Equal(t, 30, storage.Config{}.Timeout())
	assert.Equal(t, 5, storage.Config{TimeoutSeconds: 5}.Timeout())
}
