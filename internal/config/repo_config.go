// Package config manages the configuration shared between turbo commands,
// layering flags over a repo-local config file (checked into `.turbo/config.json`,
// shared by a team) and a user-local config file (holding per-user credentials).
package config

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/turbolite/turbo/internal/client"
	"github.com/turbolite/turbo/internal/turbopath"
)

const (
	_defaultAPIURL   = "https://vercel.com/api"
	_defaultLoginURL = "https://vercel.com"
)

// RepoConfig holds the values that are checked into a repository and shared
// by everyone working in it: which remote cache endpoint to talk to, and
// which team owns the cache.
type RepoConfig struct {
	v    *viper.Viper
	path turbopath.AbsoluteSystemPath
}

// AddRepoConfigFlags adds the flags that override repo-level configuration values.
func AddRepoConfigFlags(flags *pflag.FlagSet) {
	flags.String("api", "", "Override the endpoint for API calls")
	flags.String("login", "", "Override the login endpoint")
	flags.String("team", "", "Set the team slug for API calls")
}

// GetRepoConfigPath returns the expected location of the repo-level config file.
func GetRepoConfigPath(repoRoot turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	return repoRoot.UntypedJoin(".turbo", "config.json")
}

// ReadRepoConfigFile reads the repo config file at the given path, if it exists,
// and layers any of the given flags on top of the values it finds.
func ReadRepoConfigFile(path turbopath.AbsoluteSystemPath, flags *pflag.FlagSet) (*RepoConfig, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigFile(path.ToString())
	v.SetDefault("apiurl", _defaultAPIURL)
	v.SetDefault("loginurl", _defaultLoginURL)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	if flags != nil {
		if flag := flags.Lookup("api"); flag != nil {
			if err := v.BindPFlag("apiurl", flag); err != nil {
				return nil, err
			}
		}
		if flag := flags.Lookup("login"); flag != nil {
			if err := v.BindPFlag("loginurl", flag); err != nil {
				return nil, err
			}
		}
		if flag := flags.Lookup("team"); flag != nil {
			if err := v.BindPFlag("teamslug", flag); err != nil {
				return nil, err
			}
		}
	}

	return &RepoConfig{v: v, path: path}, nil
}

// APIURL returns the configured remote cache API endpoint.
func (rc *RepoConfig) APIURL() string {
	return rc.v.GetString("apiurl")
}

// LoginURL returns the configured login endpoint.
func (rc *RepoConfig) LoginURL() string {
	return rc.v.GetString("loginurl")
}

// TeamSlug returns the configured team slug, if any.
func (rc *RepoConfig) TeamSlug() string {
	return rc.v.GetString("teamslug")
}

// TeamID returns the configured team id, if any.
func (rc *RepoConfig) TeamID() string {
	return rc.v.GetString("teamid")
}

// GetRemoteConfig assembles the values needed to construct an API client,
// pairing the repo-level endpoint/team settings with the given bearer token.
func (rc *RepoConfig) GetRemoteConfig(token string) client.RemoteConfig {
	return client.RemoteConfig{
		Token:    token,
		TeamID:   rc.TeamID(),
		TeamSlug: rc.TeamSlug(),
		APIURL:   rc.APIURL(),
	}
}

// SetTeamID persists a new team id to the repo config file.
func (rc *RepoConfig) SetTeamID(teamID string) error {
	rc.v.Set("teamid", teamID)
	return rc.write()
}

func (rc *RepoConfig) write() error {
	jsonBytes, err := json.MarshalIndent(rc.v.AllSettings(), "", "  ")
	if err != nil {
		return err
	}
	if err := rc.path.EnsureDir(); err != nil {
		return err
	}
	return rc.path.WriteFile(jsonBytes, 0644)
}
