package main

import (
	"testing"
	"time"
)

func TestMarketOpen(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid session", time.Date(2025, 6, 2, 12, 0, 0, 0, loc), true},
		{"opening bell", time.Date(2025, 6, 2, 9, 30, 0, 0, loc), true},
		{"one minute before open", time.Date(2025, 6, 2, 9, 29, 0, 0, loc), false},
		{"closing bell", time.Date(2025, 6, 2, 16, 0, 0, 0, loc), false},
		{"last minute", time.Date(2025, 6, 2, 15, 59, 0, 0, loc), true},
		{"saturday", time.Date(2025, 6, 7, 12, 0, 0, 0, loc), false},
		{"sunday", time.Date(2025, 6, 8, 12, 0, 0, 0, loc), false},
	}
	for _, tc := range cases {
		if got := marketOpen(tc.at); got != tc.want {
			t.Errorf("%s: marketOpen(%v) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}
}
