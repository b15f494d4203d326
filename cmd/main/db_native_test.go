//go:build !cgo_sqlite

package main

import "testing"

func TestTranslatePragmas(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"./data/a.db", "./data/a.db"},
		{"./a.db?_journal_mode=WAL&_busy_timeout=5000", "./a.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{"./a.db?_synchronous=NORMAL&cache=shared", "./a.db?_pragma=synchronous(NORMAL)&cache=shared"},
	}
	for _, tc := range testCases {
		if got := translatePragmas(tc.in); got != tc.want {
			t.Errorf("translatePragmas(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
