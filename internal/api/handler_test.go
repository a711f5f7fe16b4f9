package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseStatsQuery_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)

	n, minSample, err := parseStatsQuery(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n != DefaultTopN {
		t.Errorf("expected default n %d, got %d", DefaultTopN, n)
	}
	if minSample != DefaultMinSample {
		t.Errorf("expected default min_sample %d, got %d", DefaultMinSample, minSample)
	}
}

func TestParseStatsQuery_CustomValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stats?n=10&min_sample=25", nil)

	n, minSample, err := parseStatsQuery(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n != 10 {
		t.Errorf("expected n 10, got %d", n)
	}
	if minSample != 25 {
		t.Errorf("expected min_sample 25, got %d", minSample)
	}
}

func TestParseStatsQuery_NExceedsMax(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stats?n=500", nil)

	_, _, err := parseStatsQuery(req)
	if err == nil {
		t.Fatal("expected error for n exceeding max, got nil")
	}

	expected := "n exceeds maximum of 50"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestParseStatsQuery_NAtMax(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stats?n=50", nil)

	n, _, err := parseStatsQuery(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n != MaxTopN {
		t.Errorf("expected n %d, got %d", MaxTopN, n)
	}
}

func TestParseStatsQuery_NegativeN(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stats?n=-1", nil)

	_, _, err := parseStatsQuery(req)
	if err == nil {
		t.Fatal("expected error for negative n, got nil")
	}
}

func TestParseStatsQuery_NegativeMinSample(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stats?min_sample=-1", nil)

	_, _, err := parseStatsQuery(req)
	if err == nil {
		t.Fatal("expected error for negative min_sample, got nil")
	}
}

func TestParseStatsQuery_InvalidN(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stats?n=abc", nil)

	_, _, err := parseStatsQuery(req)
	if err == nil {
		t.Fatal("expected error for invalid n, got nil")
	}
}

func TestParseStatsQuery_ZeroN(t *testing.T) {
	// n=0 should be treated as "use default"
	req := httptest.NewRequest(http.MethodGet, "/stats?n=0", nil)

	n, _, err := parseStatsQuery(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n != DefaultTopN {
		t.Errorf("expected default n %d for n=0, got %d", DefaultTopN, n)
	}
}
