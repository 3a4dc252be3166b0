package predict

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/milesburton/night-watch/internal/satellite"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestTLEStoreNetworkFetchIsCachedAndReused(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(issTLE + "\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	catalog := []satellite.Satellite{{Name: "ISS", CatalogID: 25544}}
	store := NewTLEStore(srv.URL, dir, 24, catalog)

	tles, err := store.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, ok := tles[25544]; !ok {
		t.Fatal("expected ISS TLE in result")
	}
	if hits != 1 {
		t.Fatalf("expected 1 network hit, got %d", hits)
	}

	// Second fetch within maxAge should hit the fresh disk cache, not the network.
	if _, err := store.Fetch(); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected cache to avoid a second network hit, got %d hits", hits)
	}
}

func TestTLEStoreFallsBackToEmbeddedWhenAllElseFails(t *testing.T) {
	dir := t.TempDir()
	catalog := []satellite.Satellite{{Name: "ISS", CatalogID: 25544}}
	store := NewTLEStore("http://127.0.0.1:1/nope", dir, 24, catalog)

	tles, err := store.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, ok := tles[25544]; !ok {
		t.Fatal("expected embedded fallback to contain ISS")
	}
}

func TestTLEStoreUsesStaleCacheWhenNetworkFails(t *testing.T) {
	dir := t.TempDir()
	catalog := []satellite.Satellite{{Name: "METEOR-M2 3", CatalogID: 57166}}
	store := NewTLEStore("http://127.0.0.1:1/nope", dir, 24, catalog)

	cachePath := dir + "/" + tleCacheFile
	staleTLE := "METEOR-M2 3\n" +
		"1 57166U 23127A   24001.50000000  .00000200  00000-0  15000-4 0  9994\n" +
		"2 57166  98.6500 120.0000 0001500  90.0000 270.0000 14.24000000 12343\n"
	if err := os.WriteFile(cachePath, []byte(staleTLE), 0o644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	staleTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(cachePath, staleTime, staleTime); err != nil {
		t.Fatalf("backdate cache: %v", err)
	}

	tles, err := store.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, ok := tles[57166]; !ok {
		t.Fatal("expected stale cache fallback to contain METEOR-M2 3")
	}
}
