package server_test

import (
	"testing"

	"perishable-ledger/core/server"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		port    string
		repl    string
		wantErr bool
	}{
		{"Defaults", "8080", "8081", false},
		{"Same port", "8080", "8080", true},
		{"Not a number", "http", "8081", true},
		{"Out of range", "8080", "70000", true},
		{"Empty", "", "8081", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := server.Config{Port: tt.port, ReplicationPort: tt.repl}
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsAdminToken(t *testing.T) {
	assert.False(t, server.Config{}.IsAdminToken(""), "empty token never grants admin")
	assert.True(t, server.Config{AdminToken: "s3cret"}.IsAdminToken("s3cret"))
	assert.False(t, server.Config{AdminToken: "s3cret"}.IsAdminToken("guess"))
}
