package envelope

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return v
}

func TestMatches(t *testing.T) {
	if !Matches(map[string]any{"pipeline_status": nil}, "pipeline_status") {
		t.Error("expected marker with nil value to match")
	}
	if Matches(map[string]any{"status": "ok"}, "pipeline_status") {
		t.Error("expected no match without marker")
	}
	if Matches(nil, "pipeline_status") {
		t.Error("expected nil map not to match")
	}
	if !Matches(map[string]any{"thread_drafts": []any{}}, "pipeline_status", "thread_drafts") {
		t.Error("expected any marker to match")
	}
}

func TestExtractNestedScenario(t *testing.T) {
	env := decode(t, `{"response":{"result":{"pipeline_status":"completed","thread_drafts":[{"title":"X"}]}}}`)

	got := Extract(env, "pipeline_status")
	if got == nil {
		t.Fatal("expected match")
	}
	if got["pipeline_status"] != "completed" {
		t.Errorf("expected inner object, got %v", got)
	}
}

func TestExtractJSONString(t *testing.T) {
	env := map[string]any{
		"output": `{"publish_status": "success", "post_url": "https://x.test/1"}`,
	}
	got := Extract(env, "publish_status")
	if got == nil || got["post_url"] != "https://x.test/1" {
		t.Fatalf("expected match inside JSON string, got %v", got)
	}
}

func TestExtractCodeFencedString(t *testing.T) {
	env := map[string]any{
		"content": "```json\n{\"pipeline_status\": \"completed\"}\n```",
	}
	if Extract(env, "pipeline_status") == nil {
		t.Fatal("expected match inside fenced JSON")
	}

	plain := map[string]any{"text": "```\n{\"pipeline_status\": \"failed\"}\n```"}
	if got := Extract(plain, "pipeline_status"); got == nil || got["pipeline_status"] != "failed" {
		t.Fatalf("expected match inside plain fence, got %v", got)
	}
}

func TestExtractInvalidStringIsLeaf(t *testing.T) {
	env := map[string]any{"message": "not json at all"}
	if got := Extract(env, "pipeline_status"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestExtractArraysAreNotSearched(t *testing.T) {
	env := map[string]any{
		"result": []any{map[string]any{"pipeline_status": "completed"}},
	}
	if got := Extract(env, "pipeline_status"); got != nil {
		t.Errorf("expected arrays to be ignored, got %v", got)
	}
}

func TestExtractScalarsYieldNothing(t *testing.T) {
	for _, v := range []any{nil, 42.0, true, []any{}, ""} {
		if got := Extract(v, "pipeline_status"); got != nil {
			t.Errorf("Extract(%v) = %v, want nil", v, got)
		}
	}
}

func TestExtractWrapperOrder(t *testing.T) {
	env := map[string]any{
		"data":   map[string]any{"pipeline_status": "from-data"},
		"result": map[string]any{"pipeline_status": "from-result"},
		"raw":    map[string]any{"pipeline_status": "from-raw"},
	}
	got := Extract(env, "pipeline_status")
	if got == nil || got["pipeline_status"] != "from-result" {
		t.Fatalf("expected earliest wrapper to win, got %v", got)
	}

	delete(env, "result")
	got = Extract(env, "pipeline_status")
	if got == nil || got["pipeline_status"] != "from-data" {
		t.Fatalf("expected data wrapper next, got %v", got)
	}
}

func TestExtractFirstMatchStopsDescent(t *testing.T) {
	env := map[string]any{
		"pipeline_status": "outer",
		"result":          map[string]any{"pipeline_status": "inner"},
	}
	got := Extract(env, "pipeline_status")
	if got["pipeline_status"] != "outer" {
		t.Errorf("expected outer object, got %v", got)
	}
}

func TestExtractUnknownKeysAreNotProbed(t *testing.T) {
	env := map[string]any{"payload": map[string]any{"pipeline_status": "completed"}}
	if got := Extract(env, "pipeline_status"); got != nil {
		t.Errorf("expected only wrapper keys to be probed, got %v", got)
	}
}

func nest(depth int, leaf map[string]any) any {
	var v any = leaf
	for i := 0; i < depth; i++ {
		v = map[string]any{"data": v}
	}
	return v
}

func TestExtractDepthBound(t *testing.T) {
	leaf := map[string]any{"pipeline_status": "completed"}

	if Extract(nest(MaxDepth, leaf), "pipeline_status") == nil {
		t.Error("expected match at max depth")
	}
	if got := Extract(nest(MaxDepth+1, leaf), "pipeline_status"); got != nil {
		t.Errorf("expected nil beyond max depth, got %v", got)
	}
}

func TestExtractSelfReferentialString(t *testing.T) {
	// Each level re-encodes the previous one as a string; the depth bound
	// must stop the descent without a match.
	s := `"plain"`
	for i := 0; i < 10; i++ {
		data, _ := json.Marshal(map[string]any{"text": s})
		s = string(data)
	}
	if got := Extract(s, "pipeline_status"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestExtractIdempotent(t *testing.T) {
	env := decode(t, `{"data":{"output":"{\"publish_status\":\"success\",\"result\":{\"publish_status\":\"nested\"}}"}}`)
	first := Extract(env, "publish_status")
	if first == nil {
		t.Fatal("expected match")
	}
	second := Extract(first, "publish_status")
	if second == nil || second["publish_status"] != first["publish_status"] {
		t.Errorf("expected idempotent extraction, got %v then %v", first, second)
	}
}

func TestExtractResultAlwaysCarriesMarker(t *testing.T) {
	fixtures := []string{
		`{"a":1}`,
		`{"result":{"response":{"data":{"pipeline_status":1}}}}`,
		`{"message":"{\"content\":{\"pipeline_status\":null}}"}`,
		`{"raw":"[1,2,3]"}`,
		`[{"pipeline_status":1}]`,
		`"{\"pipeline_status\":\"x\"}"`,
	}
	for _, f := range fixtures {
		got := Extract(decode(t, f), "pipeline_status")
		if got != nil && !Matches(got, "pipeline_status") {
			t.Errorf("fixture %s: returned object without marker: %v", f, got)
		}
	}
}

func TestExtractNoMarkers(t *testing.T) {
	if Extract(map[string]any{"a": 1}) != nil {
		t.Error("expected nil without markers")
	}
}

func TestLocatePrimaryResult(t *testing.T) {
	top := map[string]any{
		"success": true,
		"response": map[string]any{
			"result": map[string]any{"pipeline_status": "completed"},
			"data":   map[string]any{"pipeline_status": "shadowed"},
		},
	}
	got := Locate(top, "pipeline_status")
	if got == nil || got["pipeline_status"] != "completed" {
		t.Fatalf("expected primary result, got %v", got)
	}
}

func TestLocateSearchesWithinPrimary(t *testing.T) {
	top := map[string]any{
		"response": map[string]any{
			"result": `{"output": {"pipeline_status": "completed"}}`,
			"data":   map[string]any{"pipeline_status": "shadowed"},
		},
	}
	got := Locate(top, "pipeline_status")
	if got == nil || got["pipeline_status"] != "completed" {
		t.Fatalf("expected search within primary first, got %v", got)
	}
}

func TestLocateFallsBackToResponse(t *testing.T) {
	top := map[string]any{
		"response": map[string]any{
			"result":  "free text",
			"content": map[string]any{"publish_status": "success"},
		},
	}
	if Locate(top, "publish_status") == nil {
		t.Fatal("expected match in response envelope")
	}
}

func TestLocateRawTextFallback(t *testing.T) {
	top := map[string]any{
		"response": map[string]any{
			"raw_text": `{"pipeline_status": "completed"}`,
		},
	}
	if Locate(top, "pipeline_status") == nil {
		t.Fatal("expected match in response raw_text")
	}

	top = map[string]any{
		"response": "no structure here",
		"raw_text": `{"pipeline_status": "completed"}`,
	}
	if Locate(top, "pipeline_status") == nil {
		t.Fatal("expected match in top-level raw_text")
	}
}

func TestLocateTopLevelLastResort(t *testing.T) {
	top := map[string]any{
		"success":         true,
		"pipeline_status": "completed",
	}
	if Locate(top, "pipeline_status") == nil {
		t.Fatal("expected top-level match")
	}
}

func TestLocateNothing(t *testing.T) {
	top := map[string]any{
		"success":  true,
		"response": map[string]any{"message": "Tweet posted successfully!"},
	}
	if got := Locate(top, "publish_status"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if Locate(nil, "publish_status") != nil {
		t.Error("expected nil for nil envelope")
	}
}

func TestText(t *testing.T) {
	top := map[string]any{
		"success":  true,
		"response": map[string]any{"message": "Tweet posted successfully!"},
	}
	if got := Text(top); got != "Tweet posted successfully!" {
		t.Errorf("unexpected text %q", got)
	}

	nested := map[string]any{"response": `{"content": "hello there"}`}
	if got := Text(nested); got != "hello there" {
		t.Errorf("expected text inside JSON string, got %q", got)
	}

	structured := map[string]any{"items": []any{1.0, 2.0}}
	if got := Text(structured); got != `{"items":[1,2]}` {
		t.Errorf("expected JSON rendering, got %q", got)
	}

	if Text(nil) != "" {
		t.Error("expected empty text for nil")
	}
}

func TestFreeText(t *testing.T) {
	if got := FreeText(map[string]any{"message": "Tweet posted"}); got != "Tweet posted" {
		t.Errorf("unexpected free text %q", got)
	}
	structured := map[string]any{"result": map[string]any{"ok": false, "tweet_id": nil}}
	if got := FreeText(structured); got != "" {
		t.Errorf("expected no free text for structured reply, got %q", got)
	}
	if got := Text(structured); !strings.Contains(got, "tweet_id") {
		t.Errorf("expected Text to render the structure, got %q", got)
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("é", 400)
	got := Excerpt(long, 300)
	if n := utf8.RuneCountInString(got); n != 301 {
		t.Errorf("expected 300 runes plus ellipsis, got %d", n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("expected ellipsis")
	}
	if Excerpt("  short  ", 300) != "short" {
		t.Error("expected trimmed short text unchanged")
	}
}

func TestDecodeObject(t *testing.T) {
	if got := DecodeObject("```json\n{\"a\": 1}\n```"); got == nil || got["a"] != float64(1) {
		t.Errorf("expected fenced object, got %v", got)
	}
	for _, in := range []string{"", "[1,2]", `"text"`, "nope", "{broken"} {
		if got := DecodeObject(in); got != nil {
			t.Errorf("DecodeObject(%q) = %v, want nil", in, got)
		}
	}
}
