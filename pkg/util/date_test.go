package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeUnixMillis(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(ts.UnixMilli(), 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts.Unix() {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeSpaceSeparated(t *testing.T) {
	got, ok := ParseTime("2024-10-10 10:00:00")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC).Unix() {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeGarbage(t *testing.T) {
	if _, ok := ParseTime("yesterday"); ok {
		t.Fatalf("expected failure")
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestFloorUnix(t *testing.T) {
	if got := FloorUnix(7250, 3600); got != 7200 {
		t.Fatalf("got %d", got)
	}
	if got := FloorUnix(7200, 3600); got != 7200 {
		t.Fatalf("got %d", got)
	}
	if got := FloorUnix(-1, 60); got != -60 {
		t.Fatalf("got %d", got)
	}
}

func TestParseFloat(t *testing.T) {
	if v, ok := ParseFloat(" 1.0842 "); !ok || v != 1.0842 {
		t.Fatalf("got %v %v", v, ok)
	}
	if _, ok := ParseFloat("n/a"); ok {
		t.Fatalf("expected failure")
	}
}
