package internal

import (
	"fmt"
	"path/filepath"

	"github.com/arialabs/aria/internal/acquisition"
	"github.com/arialabs/aria/internal/api"
	"github.com/arialabs/aria/internal/database"
	"github.com/arialabs/aria/internal/resolver"
	"github.com/arialabs/aria/internal/transcoder"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// AriaConfig is the struct used to contain the various user config
// supplied by file, or manually inside the code.
type AriaConfig struct {
	Acquisition acquisition.Config      `yaml:"acquisition"`
	Resolver    resolver.Config         `yaml:"resolver"`
	Transcoder  transcoder.Config       `yaml:"transcoder"`
	Database    database.DatabaseConfig `yaml:"database" env-required:"true"`
	RestConfig  api.RestConfig          `yaml:"api"`
	DataDirPath string                  `yaml:"data_dir" env:"DATA_DIR"`
}

// Loads a configuration file formatted in YAML in to an AriaConfig
// struct, applying any environment variable overrides on top.
func (config *AriaConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return nil
}

// getDataDir will return the directory path used for storing acquired media.
// It will first look in the config for a value, but if none is found, a
// default beneath the users home directory is returned. If the default
// cannot be derived due to an error, a panic will occur.
func (config *AriaConfig) getDataDir() string {
	if config.DataDirPath != "" {
		return config.DataDirPath
	}

	// Derive default
	home, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir %s", err))
	}

	return filepath.Join(home, ".local", "share", ARIA_USER_DIR_SUFFIX)
}

func (config *AriaConfig) getAudioDir() string {
	return filepath.Join(config.getDataDir(), "audio")
}

func (config *AriaConfig) getThumbnailDir() string {
	return filepath.Join(config.getDataDir(), "thumbnails")
}
