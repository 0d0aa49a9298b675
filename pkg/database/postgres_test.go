package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/authguard-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "auth",
		Password: "secret",
		Name:     "authguard",
		SSLMode:  "disable",
	})
	assert.Equal(t, "host=db port=5432 user=auth password=secret dbname=authguard sslmode=disable", dsn)
}
