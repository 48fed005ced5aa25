package scheduler

import (
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) succeeded", expr)
		}
	}
}

func TestCronNext(t *testing.T) {
	tests := []struct {
		expr, after, want string
	}{
		{"*/15 * * * *", "2024-03-10 10:07", "2024-03-10 10:15"},
		{"*/15 * * * *", "2024-03-10 10:45", "2024-03-10 11:00"},
		{"0 3 * * *", "2024-03-10 03:00", "2024-03-11 03:00"},
		{"30 4 1 * *", "2024-01-31 12:00", "2024-02-01 04:30"},
		{"0 0 1 1 *", "2024-06-01 00:00", "2025-01-01 00:00"},
		{"0 12 * * 0", "2024-03-06 00:00", "2024-03-10 12:00"}, // Sunday
		{"0 12 * * 7", "2024-03-06 00:00", "2024-03-10 12:00"}, // 7 is Sunday too
		{"0 9 * * 1-5", "2024-03-09 10:00", "2024-03-11 09:00"},
		// Both day fields restricted: either matches (Friday 2024-03-08 comes before the 13th).
		{"0 0 13 * 5", "2024-03-01 00:00", "2024-03-08 00:00"},
		{"0 0 29 2 *", "2024-03-01 00:00", "2028-02-29 00:00"},
		{"5,10 8 * * *", "2024-03-10 08:05", "2024-03-10 08:10"},
	}
	for _, tt := range tests {
		c, err := ParseCron(tt.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q): %v", tt.expr, err)
		}
		got, ok := c.Next(at(tt.after))
		if !ok || !got.Equal(at(tt.want)) {
			t.Errorf("%q.Next(%s) = %s, %v; want %s", tt.expr, tt.after, got.Format("2006-01-02 15:04"), ok, tt.want)
		}
		if !c.Matches(got) {
			t.Errorf("%q does not match its own Next %s", tt.expr, got)
		}
	}
}

func TestCronNextNever(t *testing.T) {
	c, err := ParseCron("0 0 30 2 *")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Next(at("2024-01-01 00:00")); ok {
		t.Error("Feb 30 should never fire")
	}
}

func TestCronNextIgnoresSeconds(t *testing.T) {
	c, _ := ParseCron("* * * * *")
	got, _ := c.Next(at("2024-03-10 10:07").Add(42 * time.Second))
	if !got.Equal(at("2024-03-10 10:08")) {
		t.Errorf("Next = %s", got)
	}
}
