package metrics

import "testing"

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/ws", "/ws"},
		{"/metrics", "/metrics"},
		{"/api/status", "/api/status"},
		{"/api/passes", "/api/passes"},
		{"/api/captures", "/api/captures"},
		{"/api/sstv/capture", "/api/sstv/capture"},

		{"/api/fft/notch/abc123", "/api/fft/notch/{id}"},
		{"/api/fft/notch/1", "/api/fft/notch/{id}"},
		{"/api/images/meteor-m2-3-0.png", "/api/images/{name}"},
		{"/api/images/pass-001.jpg", "/api/images/{name}"},

		{"/api/fft/notch/", "other"},
		{"/api/images/", "other"},
		{"/wp-admin", "other"},
		{"/.env", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 50 unique image names produce
// exactly 1 distinct path label, not 50.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[normalizeRoute("/api/images/pass-"+string(rune('a'+i%26))+".png")] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized image paths, got %d: %v", len(seen), seen)
	}
}
