package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable the loader reads so tests only see what
// they set themselves. t.Setenv registers the restore.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func validEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("NOSTR_RELAY", "wss://relay.example.com")
	t.Setenv("NOSTR_PUBKEY", strings.Repeat("a", 64))
	t.Setenv("BLUESKY_USERNAME", "bot.example.com")
	t.Setenv("BLUESKY_APP_PASSWORD", "app-pass")
}

func TestLoad_Defaults(t *testing.T) {
	validEnv(t)
	t.Setenv("NOSTR_UNRELATED", "should be ignored")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://relay.example.com", cfg.Nostr.Relay)
	assert.Equal(t, strings.Repeat("a", 64), cfg.AuthorKey())
	assert.Equal(t, "bot.example.com", cfg.Bluesky.Username)
	assert.Equal(t, "app-pass", cfg.Bluesky.AppPassword)

	assert.Equal(t, "https://bsky.social", cfg.Bluesky.PDS)
	assert.True(t, cfg.Nostr.ResolveMentions)
	assert.False(t, cfg.Nostr.VerifySignatures)
	assert.Equal(t, time.Second, cfg.Nostr.BackoffBase)
	assert.Equal(t, 2*time.Minute, cfg.Nostr.BackoffMax)
	assert.Equal(t, 30*time.Second, cfg.Nostr.PingInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Log.File)
	assert.Empty(t, cfg.Store.Path, "memory store by default")
}

func TestLoad_EnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("NOSTR_BACKOFF_BASE", "250ms")
	t.Setenv("NOSTR_BACKOFF_MAX", "10s")
	t.Setenv("NOSTR_PING_INTERVAL", "5s")
	t.Setenv("RESOLVE_MENTIONS", "false")
	t.Setenv("VERIFY_SIGNATURES", "true")
	t.Setenv("BLUESKY_PDS", "https://pds.example.com")
	t.Setenv("SEEN_DB_PATH", "/var/lib/crosspost/seen.db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/var/log/crosspost.log")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Nostr.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.Nostr.BackoffMax)
	assert.Equal(t, 5*time.Second, cfg.Nostr.PingInterval)
	assert.False(t, cfg.Nostr.ResolveMentions)
	assert.True(t, cfg.Nostr.VerifySignatures)
	assert.Equal(t, "https://pds.example.com", cfg.Bluesky.PDS)
	assert.Equal(t, "/var/lib/crosspost/seen.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/crosspost.log", cfg.Log.File)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	body := "nostr:\n" +
		"  relay: wss://file.example.com\n" +
		"  pubkey: " + strings.Repeat("b", 64) + "\n" +
		"bluesky:\n" +
		"  username: file-bot.example.com\n" +
		"  app_password: file-pass\n"
	require.NoError(t, os.WriteFile(configFile, []byte(body), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://file.example.com", cfg.Nostr.Relay)
	assert.Equal(t, strings.Repeat("b", 64), cfg.AuthorKey())
	assert.Equal(t, "file-bot.example.com", cfg.Bluesky.Username)

	// Environment beats the file.
	t.Setenv("NOSTR_RELAY", "wss://env.example.com")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://env.example.com", cfg.Nostr.Relay)
	assert.Equal(t, strings.Repeat("b", 64), cfg.AuthorKey(), "untouched keys still come from the file")
}

func TestLoad_MissingRelay(t *testing.T) {
	validEnv(t)
	os.Unsetenv("NOSTR_RELAY")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay is required")
}

func TestLoad_RejectsNonWebsocketRelay(t *testing.T) {
	validEnv(t)
	t.Setenv("NOSTR_RELAY", "https://relay.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws:// or wss://")
}

func TestLoad_MissingCredentials(t *testing.T) {
	validEnv(t)
	os.Unsetenv("BLUESKY_APP_PASSWORD")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials are required")
}

func TestLoad_MissingAuthorKey(t *testing.T) {
	validEnv(t)
	os.Unsetenv("NOSTR_PUBKEY")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOSTR_NPUB or NOSTR_PUBKEY")
}

func TestLoad_NpubAuthor(t *testing.T) {
	pubkey := strings.Repeat("7", 64)
	npub, err := nip19.EncodePublicKey(pubkey)
	require.NoError(t, err)

	validEnv(t)
	os.Unsetenv("NOSTR_PUBKEY")
	t.Setenv("NOSTR_NPUB", npub)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, pubkey, cfg.AuthorKey())
	assert.Equal(t, npub, cfg.AuthorNpub())
}

func TestLoad_NpubWinsOverPubkey(t *testing.T) {
	npubKey := strings.Repeat("7", 64)
	npub, err := nip19.EncodePublicKey(npubKey)
	require.NoError(t, err)

	validEnv(t)
	t.Setenv("NOSTR_PUBKEY", strings.Repeat("a", 64))
	t.Setenv("NOSTR_NPUB", npub)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, npubKey, cfg.AuthorKey())
}

func TestLoad_PubkeyNormalizedToLowercase(t *testing.T) {
	validEnv(t)
	t.Setenv("NOSTR_PUBKEY", strings.Repeat("A", 64))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 64), cfg.AuthorKey())
}

func TestLoad_InvalidNpub(t *testing.T) {
	validEnv(t)
	os.Unsetenv("NOSTR_PUBKEY")
	t.Setenv("NOSTR_NPUB", "npub1notavalidkey")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "npub")
}

func TestLoad_InvalidPubkey(t *testing.T) {
	tests := []struct {
		name   string
		pubkey string
	}{
		{"too short", "abc123"},
		{"not hex", strings.Repeat("g", 64)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			validEnv(t)
			t.Setenv("NOSTR_PUBKEY", tc.pubkey)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
