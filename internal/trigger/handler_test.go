package trigger

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tanq16/stager/internal/transfer"
)

type fakeIngester struct {
	mu       sync.Mutex
	fetches  []FetchRequest
	extracts []transfer.ObjectRef
	err      error
}

func (f *fakeIngester) Fetch(ctx context.Context, sourceURL, route string) (*transfer.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, FetchRequest{URL: sourceURL, Route: route})
	return nil, f.err
}

func (f *fakeIngester) Extract(ctx context.Context, ref transfer.ObjectRef) (*transfer.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracts = append(f.extracts, ref)
	return nil, f.err
}

func post(t *testing.T, ingester Ingester, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	NewRouter(ingester).ServeHTTP(rec, req)
	return rec
}

func TestFetchTrigger(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("https://www.fec.gov/files/bulk-downloads/2024/indiv24.zip"))
	cases := []struct {
		name      string
		body      string
		wantURL   string
		wantRoute string
	}{
		{
			name:    "zipurl attribute",
			body:    `{"message":{"attributes":{"zipurl":"https://www.fec.gov/files/bulk-downloads/2024/cm24.zip"},"messageId":"1"}}`,
			wantURL: "https://www.fec.gov/files/bulk-downloads/2024/cm24.zip",
		},
		{
			name:      "url attribute with route",
			body:      `{"message":{"attributes":{"url":"https://apps.irs.gov/pub/epostcard/990/xml/2024/index_2024.csv","route":"irs"}}}`,
			wantURL:   "https://apps.irs.gov/pub/epostcard/990/xml/2024/index_2024.csv",
			wantRoute: "irs",
		},
		{
			name:    "data payload",
			body:    `{"message":{"data":"` + data + `"}}`,
			wantURL: "https://www.fec.gov/files/bulk-downloads/2024/indiv24.zip",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ing := &fakeIngester{}
			rec := post(t, ing, "/fetch", tc.body)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("status = %d", rec.Code)
			}
			if len(ing.fetches) != 1 || ing.fetches[0].URL != tc.wantURL || ing.fetches[0].Route != tc.wantRoute {
				t.Fatalf("fetches = %+v", ing.fetches)
			}
		})
	}
}

func TestFetchTriggerAlwaysAcknowledges(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"message":{}}`,
		`{"message":{"attributes":{"zipurl":"ftp://example.com/a.zip"}}}`,
		`{"message":{"data":"%%%"}}`,
		`{"message":{"attributes":{"zipurl":"https://example.com/bulk/"}}}`,
	} {
		ing := &fakeIngester{}
		rec := post(t, ing, "/fetch", body)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
		if len(ing.fetches) != 0 {
			t.Fatalf("%s: fetch started", body)
		}
	}

	ing := &fakeIngester{err: errors.New("unexpected status code: 404")}
	rec := post(t, ing, "/fetch", `{"message":{"attributes":{"zipurl":"https://example.com/a.zip"}}}`)
	if rec.Code != http.StatusNoContent || len(ing.fetches) != 1 {
		t.Fatalf("status = %d, fetches = %d", rec.Code, len(ing.fetches))
	}
}

func TestExtractTrigger(t *testing.T) {
	resource := base64.StdEncoding.EncodeToString([]byte(`{"name":"downloads/federal/fec/cm24.zip","bucket":"civic-data","contentType":"application/zip","size":"2048"}`))
	cases := []struct {
		name string
		body string
		want transfer.ObjectRef
	}{
		{
			name: "pubsub attributes",
			body: `{"message":{"attributes":{"bucketId":"civic-data","objectId":"downloads/federal/fec/cm24.zip","eventType":"OBJECT_FINALIZE"}}}`,
			want: transfer.ObjectRef{Bucket: "civic-data", Path: "downloads/federal/fec/cm24.zip"},
		},
		{
			name: "pubsub data",
			body: `{"message":{"data":"` + resource + `"}}`,
			want: transfer.ObjectRef{Bucket: "civic-data", Path: "downloads/federal/fec/cm24.zip", ContentType: "application/zip", Size: 2048},
		},
		{
			name: "object resource",
			body: `{"name":"downloads/federal/fec/cm24.zip","bucket":"civic-data","size":512}`,
			want: transfer.ObjectRef{Bucket: "civic-data", Path: "downloads/federal/fec/cm24.zip", Size: 512},
		},
		{
			name: "s3 event",
			body: `{"Records":[{"s3":{"bucket":{"name":"civic-data"},"object":{"key":"downloads/federal/fec/weekly+report.zip","size":99}}}]}`,
			want: transfer.ObjectRef{Bucket: "civic-data", Path: "downloads/federal/fec/weekly report.zip", Size: 99},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ing := &fakeIngester{}
			rec := post(t, ing, "/extract", tc.body)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("status = %d", rec.Code)
			}
			if len(ing.extracts) != 1 || ing.extracts[0] != tc.want {
				t.Fatalf("extracts = %+v", ing.extracts)
			}
		})
	}
}

func TestExtractTriggerS3Batch(t *testing.T) {
	body := `{"Records":[
		{"s3":{"bucket":{"name":"civic-data"},"object":{"key":"downloads/federal/fec/cm24.zip","size":10}}},
		{"s3":{"bucket":{"name":"civic-data"},"object":{"key":"downloads/federal/fec/cn24.zip","size":20}}}
	]}`
	ing := &fakeIngester{}
	rec := post(t, ing, "/extract", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	want := []transfer.ObjectRef{
		{Bucket: "civic-data", Path: "downloads/federal/fec/cm24.zip", Size: 10},
		{Bucket: "civic-data", Path: "downloads/federal/fec/cn24.zip", Size: 20},
	}
	if len(ing.extracts) != len(want) || ing.extracts[0] != want[0] || ing.extracts[1] != want[1] {
		t.Fatalf("extracts = %+v", ing.extracts)
	}
}

func TestExtractTriggerRejectsEmptyMessages(t *testing.T) {
	for _, body := range []string{`{}`, `{"Records":[]}`, `{"message":{"attributes":{}}}`, `[]`} {
		ing := &fakeIngester{}
		rec := post(t, ing, "/extract", body)
		if rec.Code != http.StatusNoContent || len(ing.extracts) != 0 {
			t.Fatalf("%s: status = %d, extracts = %v", body, rec.Code, ing.extracts)
		}
	}
}

func TestHealthAndMethods(t *testing.T) {
	router := NewRouter(&fakeIngester{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fetch", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /fetch = %d", rec.Code)
	}
}
