package service

import (
	"strings"
	"testing"

	"reelforge-server/models"
)

func TestSrtTimestamp(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.25, "00:01:01,250"},
		{3661.007, "01:01:01,007"},
		{-2, "00:00:00,000"},
	}
	for _, c := range cases {
		if got := srtTimestamp(c.in); got != c.want {
			t.Errorf("srtTimestamp(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatSRT_WholeSceneBlock(t *testing.T) {
	scenes := []models.TimelineScene{
		{StartTime: 0, EndTime: 3.5, SceneText: "Nothing fancy here"},
	}
	out := FormatSRT(scenes)

	want := "1\n00:00:00,000 --> 00:00:03,500\nNothing fancy here\n\n"
	if out != want {
		t.Errorf("FormatSRT = %q, want %q", out, want)
	}
}

func TestFormatSRT_GroupsSpansPerBlock(t *testing.T) {
	spans := make([]models.CaptionSpan, 7)
	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i := range spans {
		spans[i] = models.CaptionSpan{
			Start: float64(i),
			End:   float64(i + 1),
			Text:  texts[i],
		}
	}
	scenes := []models.TimelineScene{
		{StartTime: 0, EndTime: 7, Subtitles: spans},
	}
	out := FormatSRT(scenes)

	// 7 个词级字幕 -> 5 + 2 两块
	if !strings.Contains(out, "1\n00:00:00,000 --> 00:00:05,000\na b c d e\n") {
		t.Errorf("first block wrong:\n%s", out)
	}
	if !strings.Contains(out, "2\n00:00:05,000 --> 00:00:07,000\nf g\n") {
		t.Errorf("second block wrong:\n%s", out)
	}
}

func TestFormatSRT_MonotonicAcrossScenes(t *testing.T) {
	// 手工编辑造成的乱序：第二镜在第一镜结束前就开始
	scenes := []models.TimelineScene{
		{StartTime: 0, EndTime: 5, SceneText: "first"},
		{StartTime: 3, EndTime: 8, SceneText: "second"},
	}
	out := FormatSRT(scenes)

	if !strings.Contains(out, "2\n00:00:05,000 --> 00:00:08,000\nsecond\n") {
		t.Errorf("overlapping block must be clamped to previous end:\n%s", out)
	}
}

func TestFormatSRT_SkipsEmptyScenes(t *testing.T) {
	scenes := []models.TimelineScene{
		{StartTime: 0, EndTime: 2, SceneText: ""},
		{StartTime: 2, EndTime: 4, SceneText: "visible"},
	}
	out := FormatSRT(scenes)

	if strings.Contains(out, "00:00:00,000") {
		t.Errorf("empty scene should not emit a block:\n%s", out)
	}
	if !strings.HasPrefix(out, "1\n00:00:02,000") {
		t.Errorf("numbering must stay sequential:\n%s", out)
	}
}

func TestFormatSRT_Empty(t *testing.T) {
	if out := FormatSRT(nil); out != "" {
		t.Errorf("FormatSRT(nil) = %q, want empty", out)
	}
}
