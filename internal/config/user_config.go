package config

import (
	"errors"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/turbolite/turbo/internal/turbopath"
)

// UserConfig holds the values that are private to a single user of the
// machine: currently just the bearer token used to authenticate against
// the remote cache.
type UserConfig struct {
	v    *viper.Viper
	path turbopath.AbsoluteSystemPath
}

// AddUserConfigFlags adds the flags that override user-level configuration values.
func AddUserConfigFlags(flags *pflag.FlagSet) {
	flags.String("token", "", "Set the auth token for API calls")
}

// DefaultUserConfigPath returns the default location of the user config file,
// rooted at the user's home directory.
func DefaultUserConfigPath() turbopath.AbsoluteSystemPath {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return turbopath.AbsoluteSystemPathFromUpstream(home).UntypedJoin(".turbo", "config.json")
}

// ReadUserConfigFile reads the user config file at the given path, if it exists,
// and layers any of the given flags on top of the values it finds.
func ReadUserConfigFile(path turbopath.AbsoluteSystemPath, flags *pflag.FlagSet) (*UserConfig, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigFile(path.ToString())
	v.SetEnvPrefix("turbo")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	if flags != nil {
		if flag := flags.Lookup("token"); flag != nil {
			if err := v.BindPFlag("token", flag); err != nil {
				return nil, err
			}
		}
	}

	return &UserConfig{v: v, path: path}, nil
}

// Token returns the configured bearer token, sourced from (in priority order)
// the --token flag, the TURBO_TOKEN environment variable, or the config file.
func (uc *UserConfig) Token() string {
	return uc.v.GetString("token")
}

// SetToken persists a new bearer token to the user config file.
func (uc *UserConfig) SetToken(token string) error {
	uc.v.Set("token", token)
	return uc.write()
}

func (uc *UserConfig) write() error {
	if err := uc.path.EnsureDir(); err != nil {
		return err
	}
	contents := []byte(`{"token":"` + uc.Token() + `"}`)
	return uc.path.WriteFile(contents, 0600)
}
