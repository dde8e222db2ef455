package tracker

import "testing"

func TestDefaultDatabase(t *testing.T) {
	db := Default()
	if db.Len() == 0 {
		t.Fatal("embedded database is empty")
	}

	m := db.Classify("https://www.google-analytics.com/g/collect?v=2")
	if m == nil {
		t.Fatal("expected match for google-analytics")
	}
	if m.Name != "google_analytics" || m.Category != "analytics" || m.Severity != "high" {
		t.Errorf("match = %+v", m)
	}
}

func TestClassify(t *testing.T) {
	db, err := Parse([]byte(`{
		"facebook": {"domains": ["facebook.com/tr", "connect.facebook.net"], "category": "marketing", "severity": "critical"},
		"hotjar": {"domains": ["hotjar.com"], "category": "analytics", "severity": "medium"}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		url  string
		want string // tracker name, "" = no match
	}{
		{name: "path-qualified pattern", url: "https://www.facebook.com/tr?id=123", want: "facebook"},
		{name: "host-only does not hit path pattern", url: "https://www.facebook.com/profile", want: ""},
		{name: "case insensitive", url: "HTTPS://STATIC.HOTJAR.COM/c.js", want: "hotjar"},
		{name: "substring anywhere in url", url: "https://proxy.example.com/?next=connect.facebook.net/sdk.js", want: "facebook"},
		{name: "no match", url: "https://example.com/app.js", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := db.Classify(tt.url)
			got := ""
			if m != nil {
				got = m.Name
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	// Two entries whose patterns both occur in the URL: declaration order wins,
	// on every call.
	db, err := Parse([]byte(`{
		"first": {"domains": ["tracker.example"], "category": "a", "severity": "low"},
		"second": {"domains": ["example"], "category": "b", "severity": "high"}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	url := "https://tracker.example/collect"
	for i := 0; i < 50; i++ {
		m := db.Classify(url)
		if m == nil || m.Name != "first" {
			t.Fatalf("iteration %d: got %+v, want first", i, m)
		}
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte(`[]`)); err == nil {
		t.Error("array input should fail")
	}
	if _, err := Parse([]byte(`{"x": {"domains": }`)); err == nil {
		t.Error("malformed entry should fail")
	}
}
