package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/utils"
)

func staticConfig() (*config.Config, error) {
	return &config.Config{JWT: config.JWTConfig{SecretKey: "ops-secret", Issuer: "payper402"}}, nil
}

func TestAdminTokenCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(&out, staticConfig)
	cmd.SetArgs([]string{"--subject", "ops@payper", "--ttl", "1h"})
	require.NoError(t, cmd.Execute())

	claims, err := utils.NewJWTManager("ops-secret", "payper402").ValidateJWT(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops@payper", claims.Subject)
	assert.Equal(t, utils.RoleAdmin, claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestAdminTokenCommandErrors(t *testing.T) {
	failing := func() (*config.Config, error) { return nil, errors.New("JWT secret key must be changed in production") }

	tests := []struct {
		name string
		args []string
		load func() (*config.Config, error)
	}{
		{name: "missing subject", args: []string{}, load: staticConfig},
		{name: "non-positive ttl", args: []string{"--subject", "ops", "--ttl", "0s"}, load: staticConfig},
		{name: "config error", args: []string{"--subject", "ops"}, load: failing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCmd(&out, tt.load)
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			assert.Error(t, cmd.Execute())
			assert.Empty(t, out.String())
		})
	}
}
