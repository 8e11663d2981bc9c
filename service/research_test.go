package service

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Errorf("under-limit text must pass through, got %q", got)
	}
	if got := truncateText("hello world", 5); got != "hello..." {
		t.Errorf("got %q, want %q", got, "hello...")
	}
}

func TestTruncateText_RuneBoundary(t *testing.T) {
	// "咖" 占 3 字节，上限落在字符中间时要退到整字符边界
	s := strings.Repeat("咖啡", 10)
	for n := 1; n < 10; n++ {
		got := truncateText(s, n)
		if !utf8.ValidString(got) {
			t.Errorf("truncateText(%d) produced invalid UTF-8: %q", n, got)
		}
		if !strings.HasSuffix(got, "...") {
			t.Errorf("truncateText(%d) = %q, want ... suffix", n, got)
		}
	}
}

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("The History of Coffee!")
	want := []string{"history", "coffee"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword %d = %q, want %q", i, got[i], want[i])
		}
	}
}
