package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must not be empty: version=%q commit=%q date=%q", v, c, d)
	}
	if Version() != v {
		t.Fatalf("Version() = %q, want %q", Version(), v)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent("orders"); got != "oms-orders/"+version {
		t.Fatalf("unexpected user agent %q", got)
	}
	if got := UserAgent(""); !strings.HasPrefix(got, "oms-client/") {
		t.Fatalf("unexpected default user agent %q", got)
	}
}
