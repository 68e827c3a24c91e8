package server

import (
	"fmt"
	"strconv"
)

// Config holds configuration for the HTTP and replication servers.
type Config struct {
	// Port is the port where the admin HTTP API will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ReplicationPort is the port of the websocket replication endpoint.
	ReplicationPort string `mapstructure:"replication_port" default:"8081"`
	// ApiKey is the secret key required to access the API.
	ApiKey string `mapstructure:"api_key" default:""`
	// AdminToken is the token replication clients present to gain admin privileges.
	AdminToken string `mapstructure:"admin_token" default:""`
	// URL is the base URL CLI subcommands use to reach a running server.
	URL string `mapstructure:"url" default:"http://localhost:8080"`
}

// Validate checks that both ports are usable and distinct.
func (c Config) Validate() error {
	for name, p := range map[string]string{"port": c.Port, "replication_port": c.ReplicationPort} {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("server.%s: invalid port %q", name, p)
		}
	}
	if c.Port == c.ReplicationPort {
		return fmt.Errorf("server.port and server.replication_port must differ (both %s)", c.Port)
	}
	return nil
}

// IsAdminToken reports whether token grants replication admin rights.
// An empty AdminToken disables remote admin access.
func (c Config) IsAdminToken(token string) bool {
	return c.AdminToken != "" && token == c.AdminToken
}
