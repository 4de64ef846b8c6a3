package fetchqueue_test

import (
	"testing"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/fetchqueue"
)

func TestEncodeDecode_RoundTrips(t *testing.T) {
	rec := fetchqueue.Record{
		URL:          "https://example.com/a",
		FinalURL:     "https://example.com/a/",
		Domain:       "example.com",
		Depth:        3,
		StatusCode:   200,
		ContentType:  "text/html; charset=utf-8",
		ContentBytes: 4096,
		FetchedAt:    time.Unix(1700000000, 123000).UTC(),
	}

	raw, err := fetchqueue.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := fetchqueue.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.URL != rec.URL || got.FinalURL != rec.FinalURL || got.Domain != rec.Domain {
		t.Errorf("string fields = %+v, want %+v", got, rec)
	}
	if got.Depth != rec.Depth || got.StatusCode != rec.StatusCode || got.ContentBytes != rec.ContentBytes {
		t.Errorf("numeric fields = %+v, want %+v", got, rec)
	}
	if got.ContentType != rec.ContentType {
		t.Errorf("ContentType = %q, want %q", got.ContentType, rec.ContentType)
	}
	if !got.FetchedAt.Equal(rec.FetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, rec.FetchedAt)
	}
}

func TestEncodeDecode_EmptyStrings(t *testing.T) {
	rec := fetchqueue.Record{FetchedAt: time.Unix(0, 0).UTC()}

	raw, err := fetchqueue.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := fetchqueue.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.URL != "" || got.Domain != "" || got.ContentType != "" {
		t.Errorf("expected empty string fields, got %+v", got)
	}
}

func TestEncodeDecode_Body(t *testing.T) {
	rec := fetchqueue.Record{
		URL:       "https://example.com/a",
		FetchedAt: time.Unix(1700000000, 0).UTC(),
		Body:      []byte("<html><body>hi</body></html>"),
	}

	raw, err := fetchqueue.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := fetchqueue.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got.Body) != string(rec.Body) {
		t.Errorf("Body = %q, want %q", got.Body, rec.Body)
	}
}

func TestDecode_TruncatedInputFails(t *testing.T) {
	rec := fetchqueue.Record{URL: "https://example.com", FetchedAt: time.Now()}
	raw, err := fetchqueue.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = fetchqueue.Decode(raw[:len(raw)-3])
	if err == nil {
		t.Fatal("expected an error decoding truncated input")
	}
}
