package sanitize

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/TobiSchelling/threadpilot/internal/model"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return v
}

func TestScanNonObject(t *testing.T) {
	for _, v := range []any{nil, "text", 42.0, []any{1.0}} {
		r := Scan(v)
		if r.Status != model.StatusCompleted {
			t.Errorf("Scan(%v): expected completed status, got %q", v, r.Status)
		}
		if r.Drafts == nil || len(r.Drafts) != 0 {
			t.Errorf("Scan(%v): expected empty non-nil drafts, got %v", v, r.Drafts)
		}
		if r.ScannedItems.News == nil || r.ScannedItems.Papers == nil || r.ScannedItems.Stats == nil {
			t.Errorf("Scan(%v): expected non-nil item slices", v)
		}
		if r.Timestamp == "" {
			t.Errorf("Scan(%v): expected generated timestamp", v)
		}
	}
}

func TestScanDefaultsDraftFields(t *testing.T) {
	r := Scan(decode(t, `{"pipeline_status":"completed","thread_drafts":[{"title":"X"}]}`))

	if len(r.Drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(r.Drafts))
	}
	d := r.Drafts[0]
	if d.ID != "draft-1" {
		t.Errorf("expected positional id, got %q", d.ID)
	}
	if d.RelevanceScore != DefaultRelevanceScore {
		t.Errorf("expected default score, got %d", d.RelevanceScore)
	}
	if d.RequiresReview {
		t.Error("expected requires_review to default to false")
	}
	if d.Title != "X" {
		t.Errorf("expected title X, got %q", d.Title)
	}
	if d.Body != "" || d.Tags != "" || d.Hook != "" {
		t.Errorf("expected empty strings, got %+v", d)
	}
}

func TestScanNumericIDsAreKept(t *testing.T) {
	r := Scan(decode(t, `{"thread_drafts":[{"id":7},{"id":2.5},{"id":"  x  "},{"id":7}]}`))

	got := make([]string, len(r.Drafts))
	for i, d := range r.Drafts {
		got[i] = d.ID
	}
	want := []string{"7", "draft-2", "x", "draft-4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected ids %v, got %v", want, got)
	}
}

func TestScanStringScoreIsReplaced(t *testing.T) {
	r := Scan(decode(t, `{"thread_drafts":[{"id":"a","relevance_score":"90"}]}`))
	if got := r.Drafts[0].RelevanceScore; got != DefaultRelevanceScore {
		t.Errorf("expected string score replaced by default, got %d", got)
	}
}

func TestScanJSONNumberScore(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"thread_drafts":[{"relevance_score":87}]}`))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatal(err)
	}
	if got := Scan(v).Drafts[0].RelevanceScore; got != 87 {
		t.Errorf("expected 87, got %d", got)
	}
}

func TestScanMistypedFields(t *testing.T) {
	r := Scan(decode(t, `{"pipeline_status":"completed","thread_drafts":[
		{"id":7,"requires_review":"yes","classification":["x"],"body":{"a":1},"relevance_score":72.9}
	]}`))
	d := r.Drafts[0]
	if d.ID != "draft-1" {
		t.Errorf("expected numeric id replaced, got %q", d.ID)
	}
	if d.RequiresReview {
		t.Error("expected non-bool requires_review to default")
	}
	if d.Classification != "" || d.Body != "" {
		t.Errorf("expected defaults for mistyped strings, got %+v", d)
	}
	if d.RelevanceScore != 72 {
		t.Errorf("expected truncated score 72, got %d", d.RelevanceScore)
	}
}

func TestScanNonObjectDraftsKeepPosition(t *testing.T) {
	r := Scan(decode(t, `{"thread_drafts":["junk",{"id":"a","body":"hi"},3]}`))
	if len(r.Drafts) != 3 {
		t.Fatalf("expected 3 drafts, got %d", len(r.Drafts))
	}
	want := []string{"draft-1", "a", "draft-3"}
	for i, id := range want {
		if r.Drafts[i].ID != id {
			t.Errorf("draft %d: expected id %q, got %q", i, id, r.Drafts[i].ID)
		}
	}
	if r.Drafts[1].Body != "hi" {
		t.Errorf("expected valid element preserved, got %+v", r.Drafts[1])
	}
}

func TestScanDuplicateIDs(t *testing.T) {
	r := Scan(decode(t, `{"thread_drafts":[{"id":"a"},{"id":"a"}]}`))
	if r.Drafts[0].ID != "a" || r.Drafts[1].ID != "draft-2" {
		t.Errorf("expected a, draft-2; got %q, %q", r.Drafts[0].ID, r.Drafts[1].ID)
	}

	r = Scan(decode(t, `{"thread_drafts":[{"id":"draft-2"},{}]}`))
	if r.Drafts[0].ID != "draft-2" || r.Drafts[1].ID != "draft-2-2" {
		t.Errorf("expected draft-2, draft-2-2; got %q, %q", r.Drafts[0].ID, r.Drafts[1].ID)
	}
}

func TestScanDraftAliases(t *testing.T) {
	r := Scan(decode(t, `{"drafts":[{
		"category":"news",
		"tweets":["one","  ","two"],
		"score":81,
		"needs_review":true,
		"url":"https://src.test",
		"tags":["#go","#ai"]
	}]}`))
	d := r.Drafts[0]
	if d.Classification != "news" {
		t.Errorf("expected category alias, got %q", d.Classification)
	}
	if got := d.Segments(); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("expected two segments, got %v", got)
	}
	if d.RelevanceScore != 81 || !d.RequiresReview {
		t.Errorf("expected score and review aliases, got %+v", d)
	}
	if d.SourceURL != "https://src.test" {
		t.Errorf("expected url alias, got %q", d.SourceURL)
	}
	if d.Tags != "#go #ai" {
		t.Errorf("expected joined tags, got %q", d.Tags)
	}
}

func TestScanStatus(t *testing.T) {
	cases := map[string]string{
		`{"pipeline_status":"failed"}`:    model.StatusFailed,
		`{"pipeline_status":"ERROR"}`:     model.StatusFailed,
		`{"pipeline_status":"completed"}`: model.StatusCompleted,
		`{"pipeline_status":"partial"}`:   model.StatusCompleted,
		`{"pipeline_status":3}`:           model.StatusCompleted,
	}
	for fixture, want := range cases {
		if got := Scan(decode(t, fixture)).Status; got != want {
			t.Errorf("%s: expected %q, got %q", fixture, want, got)
		}
	}
}

func TestScanTimestampKept(t *testing.T) {
	r := Scan(decode(t, `{"timestamp":"2026-01-02T03:04:05Z"}`))
	if r.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("expected upstream timestamp, got %q", r.Timestamp)
	}
}

func TestScanItemsBySource(t *testing.T) {
	r := Scan(decode(t, `{"scanned_items":{
		"news":[{"title":"n1","link":"https://n.test","score":70},"junk"],
		"papers":{"items":[{"title":"p1","authors":["A","B"]}],"fetched":10,"filtered":1}
	}}`))

	items := r.ScannedItems
	if len(items.News) != 1 || items.News[0].Title != "n1" {
		t.Fatalf("expected one news item, got %+v", items.News)
	}
	if items.News[0].URL != "https://n.test" || items.News[0].Score != 70 {
		t.Errorf("unexpected news item %+v", items.News[0])
	}
	if items.News[0].Source != "news" {
		t.Errorf("expected source defaulted to key, got %q", items.News[0].Source)
	}
	if len(items.Papers) != 1 || len(items.Papers[0].Authors) != 2 {
		t.Fatalf("expected one paper with two authors, got %+v", items.Papers)
	}

	if len(items.Stats) != 2 {
		t.Fatalf("expected 2 stats, got %+v", items.Stats)
	}
	if s := items.Stats[0]; s.Source != "news" || s.Fetched != 1 || s.Filtered != 1 {
		t.Errorf("expected derived news stats, got %+v", s)
	}
	if s := items.Stats[1]; s.Source != "papers" || s.Fetched != 10 || s.Filtered != 1 {
		t.Errorf("expected reported paper stats, got %+v", s)
	}
}

func TestScanItemsTaggedArray(t *testing.T) {
	r := Scan(decode(t, `{"scanned_items":[
		{"type":"paper","title":"p","authors":"A, B ,"},
		{"title":"n"},
		{"kind":"news","title":"m","abstract":"ignored kind wins"}
	]}`))
	items := r.ScannedItems
	if len(items.Papers) != 1 || len(items.News) != 2 {
		t.Fatalf("expected 1 paper and 2 news, got %d and %d", len(items.Papers), len(items.News))
	}
	if got := items.Papers[0].Authors; len(got) != 2 || got[1] != "B" {
		t.Errorf("expected split authors, got %v", got)
	}
	if len(items.Stats) != 2 || items.Stats[0].Source != "papers" || items.Stats[1].Fetched != 2 {
		t.Errorf("unexpected stats %+v", items.Stats)
	}
}

func TestScanSourceStatsOverride(t *testing.T) {
	r := Scan(decode(t, `{
		"scanned_items":{"news":[{"title":"a"},{"title":"b"}]},
		"source_stats":[{"source":"news","fetched":20},{"source":"arxiv","fetched":5,"filtered":0},{"fetched":1}]
	}`))
	stats := r.ScannedItems.Stats
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats, got %+v", stats)
	}
	if stats[0].Fetched != 20 || stats[0].Filtered != 2 {
		t.Errorf("expected fetched overridden and filtered derived, got %+v", stats[0])
	}
	if stats[1].Source != "arxiv" || stats[1].Fetched != 5 {
		t.Errorf("expected stats-only source appended, got %+v", stats[1])
	}
}

func TestPublish(t *testing.T) {
	got := Publish(decode(t, `{"publish_status":"success","post_url":"https://x.test/1","posted_at":"now"}`))
	if got.Status != "success" || got.ExternalURL != "https://x.test/1" || got.Timestamp != "now" {
		t.Errorf("unexpected outcome %+v", got)
	}

	got = Publish(decode(t, `{"status":"failed","tweet_url":5,"url":"https://x.test/2","error_message":"rate limited"}`))
	if got.Status != "failed" || got.ExternalURL != "https://x.test/2" || got.Error != "rate limited" {
		t.Errorf("unexpected aliased outcome %+v", got)
	}

	if got := Publish(nil); got != (model.PublishOutcome{}) {
		t.Errorf("expected zero outcome, got %+v", got)
	}
}
