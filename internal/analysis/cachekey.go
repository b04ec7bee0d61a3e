package analysis

import (
	"strings"
	"unicode"

	"github.com/kormo-connect/backend/internal/profiles"
)

const (
	cacheKeyPrefix        = "analysis_"
	skillsPrefixRunes     = 50
	experiencePrefixRunes = 30
	educationPrefixRunes  = 30
	profilePartRunes      = 60
	maxCacheKeyBytes      = 190
)

// DeriveCacheKey builds the memoization key for a (profile text, task) pair. It is a lossy
// signature: profiles sharing the same prefixes share a key.
func DeriveCacheKey(signature profiles.Signature, taskID string) string {
	part := strings.Join([]string{
		compact(signature.Skills, skillsPrefixRunes),
		compact(signature.Experience, experiencePrefixRunes),
		compact(signature.Education, educationPrefixRunes),
	}, "_")
	part = truncateRunes(part, profilePartRunes)

	key := cacheKeyPrefix + strings.TrimSpace(taskID) + "_" + part
	return truncateBytes(key, maxCacheKeyBytes)
}

func compact(value string, limit int) string {
	value = strings.ToLower(truncateRunes(value, limit))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func truncateBytes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !isRuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
