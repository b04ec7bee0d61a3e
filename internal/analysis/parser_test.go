package analysis

import (
	"reflect"
	"testing"
)

func TestParseBulletReply(t *testing.T) {
	raw := "Score: 0.85\n• Strengths:\n• Good fit\n• Weaknesses:\n• Needs training\n• Suggestions:\n• Take a course"
	got := Parse(raw)
	want := Result{
		Score:       0.85,
		Strengths:   []string{"Good fit"},
		Weaknesses:  []string{"Needs training"},
		Suggestions: []string{"Take a course"},
		Kind:        KindParsed,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parse result:\n got %+v\nwant %+v", got, want)
	}
}

func TestParseGarbageReturnsFallback(t *testing.T) {
	for _, raw := range []string{"", "   ", "I cannot help with that.", "{\"unexpected\": true}"} {
		got := Parse(raw)
		if !reflect.DeepEqual(got, FallbackResult()) {
			t.Fatalf("Parse(%q) = %+v, want fallback", raw, got)
		}
		if got.Kind != KindFallback {
			t.Fatalf("Parse(%q) kind = %v, want fallback", raw, got.Kind)
		}
	}
}

func TestParseClampsScore(t *testing.T) {
	cases := map[string]float64{
		"Score: 1.7\n• Strengths:\n• a":  1,
		"score: -0.2\n• Strengths:\n• a": 0,
		"SCORE:0.42":                     0.42,
		"**Score:** 0.6":                 0.6,
		"Score: n/a\n• Strengths:\n• a":  0.5,
	}
	for raw, want := range cases {
		if got := Parse(raw).Score; got != want {
			t.Fatalf("Parse(%q).Score = %v, want %v", raw, got, want)
		}
	}
}

func TestParseCapsSectionsAtThree(t *testing.T) {
	raw := "Score: 0.7\nStrengths:\n- one\n- two\n- three\n- four\nWeaknesses:\n- w1"
	got := Parse(raw)
	if !reflect.DeepEqual(got.Strengths, []string{"one", "two", "three"}) {
		t.Fatalf("unexpected strengths %v", got.Strengths)
	}
	if !reflect.DeepEqual(got.Weaknesses, []string{"w1"}) {
		t.Fatalf("unexpected weaknesses %v", got.Weaknesses)
	}
	if !reflect.DeepEqual(got.Suggestions, fallbackSuggestions) {
		t.Fatalf("expected suggestion fallback, got %v", got.Suggestions)
	}
}

func TestParseMarkdownHeadersAndInlineItems(t *testing.T) {
	raw := "**Score:** 0.55\n**Strengths:**\n* Solid Go background\n* Communication: clear writer\n### Weaknesses\n- Limited cloud exposure\nSuggestions: Learn Kubernetes"
	got := Parse(raw)
	if got.Score != 0.55 {
		t.Fatalf("unexpected score %v", got.Score)
	}
	if !reflect.DeepEqual(got.Strengths, []string{"Solid Go background", "Communication: clear writer"}) {
		t.Fatalf("unexpected strengths %v", got.Strengths)
	}
	if !reflect.DeepEqual(got.Weaknesses, []string{"Limited cloud exposure"}) {
		t.Fatalf("unexpected weaknesses %v", got.Weaknesses)
	}
	if !reflect.DeepEqual(got.Suggestions, []string{"Learn Kubernetes"}) {
		t.Fatalf("unexpected suggestions %v", got.Suggestions)
	}
}

func TestParseIgnoresBulletsBeforeAnySection(t *testing.T) {
	got := Parse("Score: 0.9\n• stray item\nplain prose line")
	if got.Kind != KindParsed || got.Score != 0.9 {
		t.Fatalf("unexpected result %+v", got)
	}
	if !reflect.DeepEqual(got.Strengths, fallbackStrengths) {
		t.Fatalf("expected strengths fallback, got %v", got.Strengths)
	}
}

func TestParseTakesFirstNumberAfterScoreMarker(t *testing.T) {
	cases := map[string]float64{
		"Score: approximately 0.8\n• Strengths:\n• Good fit": 0.8,
		"Score: about 0.75 / 1":                              0.75,
		"Overall score: roughly .6 out of 1":                 0.6,
		"Score: unclear\nFinal Score: 0.3":                   0.3,
	}
	for raw, want := range cases {
		got := Parse(raw)
		if got.Score != want || got.Kind != KindParsed {
			t.Fatalf("Parse(%q) = score %v kind %v, want %v parsed", raw, got.Score, got.Kind, want)
		}
	}
}

func TestParseKeepsKeywordItemsInCurrentSection(t *testing.T) {
	raw := "Score: 0.6\n• Strengths:\n• Python expertise\n• Weaknesses:\n• Leadership strength\n• Limited SQL\n• Areas for improvement\n• Testing discipline"
	got := Parse(raw)
	if !reflect.DeepEqual(got.Strengths, []string{"Python expertise"}) {
		t.Fatalf("unexpected strengths %v", got.Strengths)
	}
	if !reflect.DeepEqual(got.Weaknesses, []string{"Leadership strength", "Limited SQL", "Testing discipline"}) {
		t.Fatalf("unexpected weaknesses %v", got.Weaknesses)
	}
}
