package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db",
		Port:     5433,
		User:     "tix",
		Password: "p@ss/word",
		Name:     "ledger",
		SSLMode:  "disable",
	}

	assert.Equal(t, "postgres://tix:p%40ss%2Fword@db:5433/ledger?sslmode=disable", cfg.DSN())
}
