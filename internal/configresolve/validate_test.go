package configresolve_test

import (
	"testing"

	"github.com/sin5ddd/sqlew/internal/configresolve"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	errs := configresolve.Validate(configresolve.Defaults())
	require.Empty(t, errs)
}

func TestValidateRejectsUnknownDatabaseType(t *testing.T) {
	cfg := configresolve.Defaults()
	cfg.Database.Type = "oracle"
	errs := configresolve.Validate(cfg)
	require.NotEmpty(t, errs)
}

func TestValidateRejectsOutOfRangeMessageHours(t *testing.T) {
	cfg := configresolve.Defaults()
	cfg.Autodelete.MessageHours = 0
	errs := configresolve.Validate(cfg)
	require.NotEmpty(t, errs)

	cfg.Autodelete.MessageHours = 10000
	errs = configresolve.Validate(cfg)
	require.NotEmpty(t, errs)
}

func TestValidateRejectsUnknownAuthType(t *testing.T) {
	cfg := configresolve.Defaults()
	cfg.Database.Auth.Type = "ldap"
	errs := configresolve.Validate(cfg)
	require.NotEmpty(t, errs)
}
