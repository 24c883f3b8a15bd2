package config

import (
	"os"
	"strings"
	"time"
)

const (
	NotifyChannelTelegram = "telegram"
	NotifyChannelPubSub   = "pubsub"
	NotifyChannelLog      = "log"
)

// AsyncDispatch moves notification dispatch off the publish request.
// The listing-published event goes through Pub/Sub and the push endpoint runs the dispatch.
//
// Set via env:
// - ASYNC_DISPATCH=true
func AsyncDispatch() bool {
	return envBool("ASYNC_DISPATCH")
}

// NotifyChannel selects the operator channel for match digests. An unset or
// unknown value returns "" and no digest can be delivered.
//
// Set via env:
// - NOTIFY_CHANNEL=telegram|pubsub|log
func NotifyChannel() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFY_CHANNEL")))
	switch v {
	case NotifyChannelTelegram, NotifyChannelPubSub, NotifyChannelLog:
		return v
	default:
		return ""
	}
}

// SimilarListingsLimit is the size of the "similar listings" slot on the detail page.
func SimilarListingsLimit() int {
	n := intFromEnv("SIMILAR_LISTINGS_LIMIT", 4)
	if n <= 0 {
		return 4
	}
	return n
}

// SimilarCacheTTL controls how long ranked similar-listing ids stay in redis. Zero disables the cache.
func SimilarCacheTTL() time.Duration {
	return time.Duration(intFromEnv("SIMILAR_CACHE_TTL_SECONDS", 600)) * time.Second
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
