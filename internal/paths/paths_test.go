package paths

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform swaps the platform lookups for the duration of a test.
func fakePlatform(t *testing.T, goos string, env map[string]string) {
	t.Helper()
	saved := platform
	t.Cleanup(func() { platform = saved })
	platform.goos = goos
	platform.homeDir = func() (string, error) { return "/home/ada", nil }
	platform.userConfigDir = func() (string, error) { return "/Users/ada/Library/Application Support", nil }
	platform.getenv = func(k string) string { return env[k] }
}

func TestDefaultDirs(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		env        map[string]string
		wantConfig string
		wantData   string
	}{
		{
			name:       "linux xdg",
			goos:       "linux",
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: "/xdg/config/uow",
			wantData:   "/xdg/data/uow",
		},
		{
			name:       "linux fallback",
			goos:       "linux",
			wantConfig: "/home/ada/.config/uow",
			wantData:   "/home/ada/.local/share/uow",
		},
		{
			name:       "darwin",
			goos:       "darwin",
			wantConfig: "/Users/ada/Library/Application Support/uow",
			wantData:   "/Users/ada/Library/Application Support/uow",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakePlatform(t, tt.goos, tt.env)
			cfg, err := DefaultConfigDir()
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.wantConfig), cfg)
			data, err := DefaultDataDir()
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.wantData), data)
		})
	}
}

func TestDefaultDirHomeError(t *testing.T) {
	fakePlatform(t, "linux", nil)
	platform.homeDir = func() (string, error) { return "", errors.New("no home") }
	_, err := DefaultConfigDir()
	assert.Error(t, err)
}

func TestResolveConfigDir(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{name: "flag wins over env", flag: "/explicit/config", env: "/env/config", want: "/explicit/config"},
		{name: "env when flag empty", env: "/env/config", want: "/env/config"},
		{name: "platform default", want: "/home/ada/.config/uow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakePlatform(t, "linux", map[string]string{EnvConfigDir: tt.env})
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	fakePlatform(t, "linux", nil)

	got, err := ResolveDataDir("/flag/data", "/config/data")
	require.NoError(t, err)
	assert.Equal(t, "/flag/data", got)

	got, err = ResolveDataDir("", "/config/data")
	require.NoError(t, err)
	assert.Equal(t, "/config/data", got)

	got, err = ResolveDataDir("", "")
	require.NoError(t, err)
	assert.Equal(t, "/home/ada/.local/share/uow", got)

	got, err = ResolveDataDir("rel", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}
