package worker

import (
	"context"
	"net/http"
	"testing"
)

func TestFetchStripsSetCookieBeforeStoring(t *testing.T) {
	storage := newTestStorage(t)
	network := newFakeNetwork().serveHeader("/assets/app.js", http.StatusOK, "js",
		http.Header{"Set-Cookie": []string{"session=visitor-1"}})
	w := newTestWorker(t, testConfig("folio-v1"), storage, network)

	first, err := w.Fetch(context.Background(), getRequest(t, "/assets/app.js"))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if first.FromCache || first.Snapshot.Header.Get("Set-Cookie") == "" {
		t.Fatalf("the visitor that triggered the fetch should still receive the origin response: %+v", first.Snapshot.Header)
	}
	w.Settle()

	second, err := w.Fetch(context.Background(), getRequest(t, "/assets/app.js"))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if !second.FromCache {
		t.Fatalf("second fetch should come from cache")
	}
	if cookies := second.Snapshot.Header.Values("Set-Cookie"); len(cookies) != 0 {
		t.Fatalf("cached entry leaked cookies to another visitor: %v", cookies)
	}
	if second.Snapshot.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("other headers must be kept, got %v", second.Snapshot.Header)
	}
}

func TestFetchSkipsStoreForPrivateResponses(t *testing.T) {
	testCases := []struct {
		name          string
		requestHeader http.Header
		cacheControl  string
	}{
		{"authorization", http.Header{"Authorization": []string{"Bearer abc"}}, ""},
		{"cookie", http.Header{"Cookie": []string{"session=visitor-1"}}, ""},
		{"no-store", nil, "no-store"},
		{"private", nil, "max-age=60, Private"},
		{"private field list", nil, `private="Set-Cookie"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			storage := newTestStorage(t)
			var header http.Header
			if tc.cacheControl != "" {
				header = http.Header{"Cache-Control": []string{tc.cacheControl}}
			}
			network := newFakeNetwork().serveHeader("/api/profile", http.StatusOK, `{"me":1}`, header)
			w := newTestWorker(t, testConfig("folio-v1"), storage, network)

			req := getRequest(t, "/api/profile")
			for key, values := range tc.requestHeader {
				req.Header[key] = values
			}
			resp, err := w.Fetch(context.Background(), req)
			if err != nil || resp.Snapshot.Status != http.StatusOK {
				t.Fatalf("fetch should succeed: %v", err)
			}
			w.Settle()
			if _, ok := lookup(t, storage, "folio-v1", "/api/profile"); ok {
				t.Fatalf("response must not enter the shared cache")
			}
		})
	}
}

func TestFetchStoresPublicCacheControl(t *testing.T) {
	storage := newTestStorage(t)
	network := newFakeNetwork().serveHeader("/assets/logo.svg", http.StatusOK, "svg",
		http.Header{"Cache-Control": []string{"public, max-age=31536000"}})
	w := newTestWorker(t, testConfig("folio-v1"), storage, network)

	if _, err := w.Fetch(context.Background(), getRequest(t, "/assets/logo.svg")); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	w.Settle()
	if _, ok := lookup(t, storage, "folio-v1", "/assets/logo.svg"); !ok {
		t.Fatalf("public responses should be cached")
	}
}

func TestInstallStripsSetCookie(t *testing.T) {
	storage := newTestStorage(t)
	network := siteNetwork().serveHeader("/index.html", http.StatusOK, "index",
		http.Header{"Set-Cookie": []string{"csrftoken=first-visit"}})
	w := newTestWorker(t, testConfig("folio-v1"), storage, network)

	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	cached, ok := lookup(t, storage, "folio-v1", "/index.html")
	if !ok {
		t.Fatalf("index should be precached")
	}
	if cached.Header.Get("Set-Cookie") != "" {
		t.Fatalf("precached entry must not carry cookies: %v", cached.Header)
	}
	if cached.StoredAt.IsZero() {
		t.Fatalf("precached entry should record StoredAt")
	}
}
