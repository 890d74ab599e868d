package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>News</title>
<item><title>First</title><link>https://example.com/1</link><guid>g-1</guid>
<description>one</description><pubDate>Mon, 01 Jan 2024 09:00:00 GMT</pubDate></item>
<item><title>Second</title><link>https://example.com/2</link>
<pubDate>Tue, 02 Jan 2024 09:00:00 +0000</pubDate></item>
<item><title>Undated</title><link>https://example.com/3</link></item>
</channel></rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSExtractAll(t *testing.T) {
	srv := newFeedServer(t)
	ex := NewRSSExtractor(NewHTTPClient("rss", testHTTPConfig(), nil), srv.URL)

	recs, err := ex.Extract(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recs))
	}
	if recs[0]["id"] != "g-1" || recs[1]["id"] != "https://example.com/2" {
		t.Errorf("unexpected ids %v %v", recs[0]["id"], recs[1]["id"])
	}
	if recs[0]["published"] != "2024-01-01T09:00:00Z" || recs[2]["published"] != nil {
		t.Errorf("unexpected published values %v %v", recs[0]["published"], recs[2]["published"])
	}

	u, err := ex.Transform(context.Background(), recs[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if u.ExternalID != "rss_g-1" || u.Title != "First" || u.Description == nil || *u.Description != "one" || u.CanonicalID != nil {
		t.Errorf("unexpected unified record %+v", u)
	}
	u2, _ := ex.Transform(context.Background(), recs[1], nil)
	if u2.Description != nil {
		t.Errorf("expected nil description, got %q", *u2.Description)
	}
}

func TestRSSExtractSinceCheckpoint(t *testing.T) {
	srv := newFeedServer(t)
	ex := NewRSSExtractor(NewHTTPClient("rss", testHTTPConfig(), nil), srv.URL)
	since := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	recs, err := ex.Extract(context.Background(), &since)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0]["title"] != "Second" {
		t.Errorf("expected only the second entry, got %v", recs)
	}
}
