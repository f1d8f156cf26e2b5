package onboard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/camgate/pkg/config"
)

func TestNewOnboardCommand(t *testing.T) {
	cmd := NewOnboardCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "onboard", cmd.Use)
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("force"))
}

func TestOnboardWritesStarterConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("CAMGATE_CONFIG", path)

	require.NoError(t, onboardCmd(false))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Cameras, 1)
	require.Len(t, cfg.Bots, 1)
	assert.Equal(t, "front-door", cfg.Cameras[0].Name)
	assert.Equal(t, "alerts", cfg.Cameras[0].Bot)
	assert.Equal(t, config.KindTelegram, cfg.Bots[0].Kind)

	// Second run refuses to clobber without --force.
	err = onboardCmd(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, onboardCmd(true))
}
