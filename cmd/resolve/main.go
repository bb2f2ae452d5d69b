package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
	"github.com/blackmichael/nostr-crosspost/internal/relay"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		key      string
		relayURL string
		profile  bool
	)

	flag.StringVar(&key, "key", "", "Author key to resolve, npub or 64-char hex")
	flag.StringVar(&relayURL, "relay", envOrDefault("NOSTR_RELAY", ""), "Relay websocket URL for the profile lookup")
	flag.BoolVar(&profile, "profile", false, "Fetch the kind-0 profile record from the relay")
	flag.Parse()

	if key == "" {
		return fmt.Errorf("--key is required")
	}

	var npub, hexKey string
	if strings.HasPrefix(key, "npub1") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return fmt.Errorf("decode npub: %w", err)
		}
		decoded, ok := value.(string)
		if !ok || prefix != "npub" {
			return fmt.Errorf("not an npub key: %s", key)
		}
		npub, hexKey = key, decoded
	} else {
		hexKey = strings.ToLower(key)
		if len(hexKey) != 64 {
			return fmt.Errorf("hex pubkey must be 64 characters, got %d", len(hexKey))
		}
		encoded, err := nip19.EncodePublicKey(hexKey)
		if err != nil {
			return fmt.Errorf("encode pubkey: %w", err)
		}
		npub = encoded
	}

	fmt.Printf("npub: %s\n", npub)
	fmt.Printf("hex:  %s\n", hexKey)

	if !profile {
		return nil
	}
	if relayURL == "" {
		return fmt.Errorf("--relay is required for the profile lookup (or set NOSTR_RELAY)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("Fetching profile from %s...\n", relayURL)
	events, err := relay.Query(ctx, relayURL, relay.Filter{
		Authors: []string{hexKey},
		Kinds:   []int{domain.KindProfileMetadata},
		Limit:   1,
	})
	if err != nil {
		return fmt.Errorf("query relay: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No profile metadata found")
		return nil
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(events[0].Content), &meta); err != nil {
		return fmt.Errorf("parse profile metadata: %w", err)
	}
	pretty, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("format profile metadata: %w", err)
	}
	fmt.Println(string(pretty))

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
