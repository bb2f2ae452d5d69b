package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/nbd-wtf/go-nostr/nip19"
)

const configFile = "config.yaml"

// envKeys maps the environment variables the bot reads onto config paths.
// Variables not listed here are ignored.
var envKeys = map[string]string{
	"NOSTR_RELAY":         "nostr.relay",
	"NOSTR_NPUB":          "nostr.npub",
	"NOSTR_PUBKEY":        "nostr.pubkey",
	"NOSTR_BACKOFF_BASE":  "nostr.backoff_base",
	"NOSTR_BACKOFF_MAX":   "nostr.backoff_max",
	"NOSTR_PING_INTERVAL": "nostr.ping_interval",
	"VERIFY_SIGNATURES":   "nostr.verify_signatures",
	"RESOLVE_MENTIONS":    "nostr.resolve_mentions",

	"BLUESKY_USERNAME":     "bluesky.username",
	"BLUESKY_APP_PASSWORD": "bluesky.app_password",
	"BLUESKY_PDS":          "bluesky.pds",

	"SEEN_DB_PATH": "store.path",

	"LOG_LEVEL": "log.level",
	"LOG_FILE":  "log.file",
}

// Config holds all configuration for the bot.
type Config struct {
	Nostr   NostrConfig   `koanf:"nostr"`
	Bluesky BlueskyConfig `koanf:"bluesky"`
	Store   StoreConfig   `koanf:"store"`
	Log     LogConfig     `koanf:"log"`

	// authorKey is the monitored author's pubkey in hex, resolved from
	// either the npub or pubkey setting during validation.
	authorKey string
}

// NostrConfig covers the relay subscription side.
type NostrConfig struct {
	// Relay is the websocket endpoint of the relay to subscribe to.
	Relay string `koanf:"relay"`

	// Npub and Pubkey identify the author whose notes are crossposted. At
	// least one is required; Npub wins when both are set.
	Npub   string `koanf:"npub"`
	Pubkey string `koanf:"pubkey"`

	// VerifySignatures enables schnorr verification of incoming events.
	VerifySignatures bool `koanf:"verify_signatures"`

	// ResolveMentions enables replacing nostr:npub mentions with profile
	// display names before posting.
	ResolveMentions bool `koanf:"resolve_mentions"`

	BackoffBase  time.Duration `koanf:"backoff_base"`
	BackoffMax   time.Duration `koanf:"backoff_max"`
	PingInterval time.Duration `koanf:"ping_interval"`
}

// BlueskyConfig covers the publishing side. Use an App Password.
type BlueskyConfig struct {
	Username    string `koanf:"username"`
	AppPassword string `koanf:"app_password"`
	PDS         string `koanf:"pds"`
}

// StoreConfig selects the seen-event store. An empty Path keeps dedup state
// in memory only.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// LogConfig controls log level and the optional log file tee.
type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

// Load reads configuration from defaults, an optional config.yaml, and
// environment variable overrides, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"nostr.resolve_mentions": true,
		"nostr.backoff_base":     "1s",
		"nostr.backoff_max":      "2m",
		"nostr.ping_interval":    "30s",
		"bluesky.pds":            "https://bsky.social",
		"log.level":              "info",
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Nostr.Relay == "" {
		return fmt.Errorf("nostr relay is required (set NOSTR_RELAY)")
	}
	u, err := url.Parse(c.Nostr.Relay)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("nostr relay must be a ws:// or wss:// url, got %q", c.Nostr.Relay)
	}

	if c.Bluesky.Username == "" || c.Bluesky.AppPassword == "" {
		return fmt.Errorf("bluesky credentials are required (set BLUESKY_USERNAME and BLUESKY_APP_PASSWORD)")
	}

	switch {
	case c.Nostr.Npub != "":
		prefix, value, err := nip19.Decode(c.Nostr.Npub)
		if err != nil {
			return fmt.Errorf("decode npub: %w", err)
		}
		key, ok := value.(string)
		if !ok || prefix != "npub" {
			return fmt.Errorf("expected an npub key, got %s", prefix)
		}
		c.authorKey = key

	case c.Nostr.Pubkey != "":
		key := strings.ToLower(c.Nostr.Pubkey)
		if len(key) != 64 {
			return fmt.Errorf("nostr pubkey must be 64 hex characters")
		}
		if _, err := hex.DecodeString(key); err != nil {
			return fmt.Errorf("nostr pubkey is not valid hex: %w", err)
		}
		c.authorKey = key

	default:
		return fmt.Errorf("either NOSTR_NPUB or NOSTR_PUBKEY is required")
	}

	return nil
}

// AuthorKey returns the monitored author's pubkey in hex. Only valid after
// Load.
func (c *Config) AuthorKey() string {
	return c.authorKey
}

// AuthorNpub returns the monitored author's key in bech32 form for display.
func (c *Config) AuthorNpub() string {
	npub, err := nip19.EncodePublicKey(c.authorKey)
	if err != nil {
		return c.authorKey
	}
	return npub
}
