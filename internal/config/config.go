// Package config loads the scanner configuration from YAML with environment
// overrides layered on top.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/llehouerou/airwave/internal/logging"
)

const appName = "airwave"

type Config struct {
	Library     LibraryConfig     `koanf:"library"`
	API         APIConfig         `koanf:"api"`
	Weights     Weights           `koanf:"weights"`
	AgeDecay    AgeDecayConfig    `koanf:"age_decay"`
	Features    Features          `koanf:"features"`
	RateLimits  RateLimits        `koanf:"ratelimits"`
	Concurrency ConcurrencyConfig `koanf:"concurrency"`
	Playlists   PlaylistConfig    `koanf:"playlists"`

	APICallTimeoutSeconds int    `koanf:"api_call_timeout_seconds"`
	DBPath                string `koanf:"db_path"`
	LogPath               string `koanf:"log_path"`
	PerpetualIntervalHrs  int    `koanf:"perpetual_interval_hours"`
}

// LibraryConfig points at the Subsonic-compatible music server.
type LibraryConfig struct {
	BaseURL     string `koanf:"base_url"`
	Username    string `koanf:"username"`
	Token       string `koanf:"token"`
	MusicFolder string `koanf:"music_folder"`
}

type APIConfig struct {
	Popularity PopularityConfig `koanf:"popularity"`
	Scrobbles  ScrobblesConfig  `koanf:"scrobbles"`
	MetadataA  MetadataAConfig  `koanf:"metadata_a"`
	MetadataB  MetadataBConfig  `koanf:"metadata_b"`
}

// PopularityConfig holds the Spotify OAuth2 client-credentials pair.
type PopularityConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

// ScrobblesConfig holds the Last.fm API credentials.
type ScrobblesConfig struct {
	APIKey       string `koanf:"api_key"`
	SharedSecret string `koanf:"shared_secret"`
}

// MetadataAConfig holds MusicBrainz settings. A descriptive User-Agent is
// required by the MusicBrainz terms of service.
type MetadataAConfig struct {
	UserAgent string `koanf:"user_agent"`
}

// MetadataBConfig holds the Discogs personal token.
type MetadataBConfig struct {
	Token string `koanf:"token"`
}

// Weights blend the three popularity signals. They must sum to 1; loads that
// disagree are renormalized with a warning.
type Weights struct {
	Spotify   float64 `koanf:"spotify"`
	Scrobbles float64 `koanf:"scrobbles"`
	Age       float64 `koanf:"age"`
}

// AgeDecayConfig selects the release-age decay curve of the score formula.
type AgeDecayConfig struct {
	Mode          string  `koanf:"mode"` // "exponential" or "linear"
	HalfLifeYears float64 `koanf:"half_life_years"`
}

type Features struct {
	Force           bool `koanf:"force"`
	Perpetual       bool `koanf:"perpetual"`
	Verbose         bool `koanf:"verbose"`
	Batchrate       bool `koanf:"batchrate"`
	AlbumSkipDays   int  `koanf:"album_skip_days"`
	VideoOnlyMedium bool `koanf:"video_only_medium"`
}

type RateLimits struct {
	PopularityWindowLimit   int `koanf:"popularity_window_limit"`
	PopularityWindowSeconds int `koanf:"popularity_window_seconds"`
	PopularityDailyLimit    int `koanf:"popularity_daily_limit"`
	ScrobblesDailyLimit     int `koanf:"scrobbles_daily_limit"`
	FlushEvery              int `koanf:"flush_every"`
}

type ConcurrencyConfig struct {
	Popularity int `koanf:"popularity"`
	Scrobbles  int `koanf:"scrobbles"`
	MetadataA  int `koanf:"metadata_a"`
	MetadataB  int `koanf:"metadata_b"`
}

type PlaylistConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

func defaults() Config {
	return Config{
		Weights:  Weights{Spotify: 0.3, Scrobbles: 0.5, Age: 0.2},
		AgeDecay: AgeDecayConfig{Mode: "exponential", HalfLifeYears: 5},
		Features: Features{AlbumSkipDays: 30},
		API: APIConfig{
			Popularity: PopularityConfig{Enabled: true},
			MetadataA:  MetadataAConfig{UserAgent: "airwave/1.0 (https://github.com/llehouerou/airwave)"},
		},
		RateLimits: RateLimits{
			PopularityWindowLimit:   250,
			PopularityWindowSeconds: 30,
			PopularityDailyLimit:    500000,
			ScrobblesDailyLimit:     50000,
			FlushEvery:              50,
		},
		Concurrency: ConcurrencyConfig{
			Popularity: 4,
			Scrobbles:  1,
			MetadataA:  2,
			MetadataB:  2,
		},
		Playlists:             PlaylistConfig{Enabled: true},
		APICallTimeoutSeconds: 30,
		PerpetualIntervalHrs:  24,
	}
}

// envMappings translates the recognized environment variables to config keys.
// Anything else is left alone.
var envMappings = map[string]string{
	"db_path":      "db_path",
	"log_path":     "log_path",
	"music_folder": "library.music_folder",
	"force_rescan": "features.force",
}

func envTransform(key string) string {
	mapped, ok := envMappings[strings.ToLower(key)]
	if !ok {
		return "" // skip unrecognized env vars
	}
	return mapped
}

// Load reads configuration: struct defaults, then the YAML file, then
// environment overrides.
func Load() (*Config, error) {
	return LoadFile(resolveConfigPath())
}

// LoadFile loads configuration from an explicit file path. An empty path or
// a missing file loads defaults plus environment only.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	def := defaults()
	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fileK := koanf.New(".")
			if err := fileK.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
			warnUnknownKeys(k, fileK, path)
			if err := k.Merge(fileK); err != nil {
				return nil, fmt.Errorf("merge config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}
	// FORCE_RESCAN is documented as =1; koanf would keep it a string.
	if os.Getenv("FORCE_RESCAN") == "1" {
		_ = k.Set("features.force", true)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// resolveConfigPath returns CONFIG_PATH if set, otherwise the first existing
// default location.
func resolveConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	candidates := []string{
		"airwave.yaml",
		filepath.Join(xdg.ConfigHome, appName, "config.yaml"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// warnUnknownKeys logs keys present in the file but absent from the defaults.
func warnUnknownKeys(known, loaded *koanf.Koanf, path string) {
	knownKeys := map[string]struct{}{}
	for _, key := range known.Keys() {
		knownKeys[key] = struct{}{}
	}
	for _, key := range loaded.Keys() {
		if _, ok := knownKeys[key]; !ok {
			logging.Warn().Str("key", key).Str("file", path).Msg("ignoring unknown config key")
		}
	}
}

// applyDefaults backfills values that unmarshalled to zero.
func (c *Config) applyDefaults() {
	if c.APICallTimeoutSeconds < 1 {
		c.APICallTimeoutSeconds = 30
	}
	if c.Features.AlbumSkipDays <= 0 {
		c.Features.AlbumSkipDays = 30
	}
	if c.PerpetualIntervalHrs <= 0 {
		c.PerpetualIntervalHrs = 24
	}
	if c.AgeDecay.Mode != "linear" {
		c.AgeDecay.Mode = "exponential"
	}
	if c.AgeDecay.HalfLifeYears <= 0 {
		c.AgeDecay.HalfLifeYears = 5
	}
	if c.RateLimits.FlushEvery <= 0 {
		c.RateLimits.FlushEvery = 50
	}
	if c.Concurrency.Popularity <= 0 {
		c.Concurrency.Popularity = 4
	}
	if c.Concurrency.Scrobbles <= 0 {
		c.Concurrency.Scrobbles = 1
	}
	if c.Concurrency.MetadataA <= 0 {
		c.Concurrency.MetadataA = 2
	}
	if c.Concurrency.MetadataB <= 0 {
		c.Concurrency.MetadataB = 2
	}
	if c.DBPath == "" {
		if p, err := xdg.DataFile(filepath.Join(appName, "airwave.db")); err == nil {
			c.DBPath = p
		}
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(xdg.StateHome, appName, "logs")
	}
	if c.Playlists.Path == "" && c.DBPath != "" {
		c.Playlists.Path = filepath.Join(filepath.Dir(c.DBPath), "playlists")
	}
}

// Validate checks required settings and normalizes the signal weights.
func (c *Config) Validate() error {
	if c.Library.BaseURL == "" {
		return fmt.Errorf("library.base_url is required")
	}
	if c.Library.Username == "" || c.Library.Token == "" {
		return fmt.Errorf("library.username and library.token are required")
	}
	if c.API.Popularity.Enabled && (c.API.Popularity.ClientID == "" || c.API.Popularity.ClientSecret == "") {
		return fmt.Errorf("api.popularity requires client_id and client_secret when enabled")
	}

	sum := c.Weights.Spotify + c.Weights.Scrobbles + c.Weights.Age
	if sum <= 0 {
		return fmt.Errorf("weights must have a positive sum, got %.3f", sum)
	}
	if math.Abs(sum-1.0) > 0.001 {
		logging.Warn().Float64("sum", sum).Msg("weights do not sum to 1, renormalizing")
		c.Weights.Spotify /= sum
		c.Weights.Scrobbles /= sum
		c.Weights.Age /= sum
	}
	return nil
}

// Timeout returns the per-call budget for external API calls.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.APICallTimeoutSeconds) * time.Second
}

// HasScrobbles reports whether the Last.fm client is configured.
func (c *Config) HasScrobbles() bool {
	return c.API.Scrobbles.APIKey != ""
}

// HasMetadataB reports whether the Discogs client is configured.
func (c *Config) HasMetadataB() bool {
	return c.API.MetadataB.Token != ""
}
