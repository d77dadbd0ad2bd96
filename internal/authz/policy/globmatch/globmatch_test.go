package globmatch

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"login:*", "login:alice", true},
		{"login:*", "logout:alice", false},
		{"exact", "exact", true},
		{"exact", "exactish", false},
		{"*:alice", "login:alice", true},
		{"a*z", "abz", true},
		{"a*z", "ab", false},
		{"a*z", "az", true},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.s); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.s, got, c.want)
		}
	}
}
