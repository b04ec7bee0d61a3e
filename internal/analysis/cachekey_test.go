package analysis

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kormo-connect/backend/internal/profiles"
)

func TestDeriveCacheKeyNormalizesProfileText(t *testing.T) {
	first := DeriveCacheKey(profiles.Signature{Skills: "Go, SQL", Experience: "3 Years", Education: "BSc CS"}, "task-1")
	second := DeriveCacheKey(profiles.Signature{Skills: "go,  sql", Experience: "3 years", Education: "bsc\tcs"}, "task-1")
	if first != second {
		t.Fatalf("expected normalized keys to match: %q vs %q", first, second)
	}
	if first != "analysis_task-1_go,sql_3years_bsccs" {
		t.Fatalf("unexpected key %q", first)
	}
}

func TestDeriveCacheKeyDistinguishesTasks(t *testing.T) {
	signature := profiles.Signature{Skills: "Go"}
	if DeriveCacheKey(signature, "task-1") == DeriveCacheKey(signature, "task-2") {
		t.Fatalf("expected different tasks to produce different keys")
	}
}

func TestDeriveCacheKeyIsBounded(t *testing.T) {
	long := strings.Repeat("নতুন দক্ষতা ", 40)
	key := DeriveCacheKey(profiles.Signature{Skills: long, Experience: long, Education: long}, strings.Repeat("t", 150))
	if len(key) > maxCacheKeyBytes {
		t.Fatalf("expected key of at most %d bytes, got %d", maxCacheKeyBytes, len(key))
	}
	if !utf8.ValidString(key) {
		t.Fatalf("expected truncation to keep valid utf-8")
	}

	shortKey := DeriveCacheKey(profiles.Signature{Skills: strings.Repeat("a", 200)}, "t")
	part := strings.TrimPrefix(shortKey, "analysis_t_")
	if utf8.RuneCountInString(part) > profilePartRunes {
		t.Fatalf("expected profile part capped at %d runes, got %d", profilePartRunes, utf8.RuneCountInString(part))
	}
}
