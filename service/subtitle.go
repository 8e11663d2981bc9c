package service

import (
	"fmt"
	"strings"

	"reelforge-server/models"
)

// 每个 SRT 块聚合的字幕条数（词级字幕太碎，合并后才可读）
const captionSpansPerBlock = 5

// FormatSRT 把时间轴渲染成 SRT 文本。有字幕条的分镜按 captionSpansPerBlock
// 条聚合成块；没有的整个分镜出一块，用完整旁白。输出时间戳全程单调不减：
// 手工编辑造成的乱序/重叠会被夹到上一块的结束时间。
func FormatSRT(scenes []models.TimelineScene) string {
	var b strings.Builder
	index := 1
	lastEnd := 0.0

	for _, scene := range scenes {
		blocks := sceneBlocks(scene)
		for _, blk := range blocks {
			start := blk.start
			end := blk.end
			if start < lastEnd {
				start = lastEnd
			}
			if end < start {
				end = start
			}
			fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
				index, srtTimestamp(start), srtTimestamp(end), blk.text)
			index++
			lastEnd = end
		}
	}
	return b.String()
}

type srtBlock struct {
	start, end float64
	text       string
}

func sceneBlocks(scene models.TimelineScene) []srtBlock {
	if len(scene.Subtitles) == 0 {
		text := strings.TrimSpace(scene.SceneText)
		if text == "" {
			return nil
		}
		end := scene.EndTime
		if end <= scene.StartTime {
			end = scene.StartTime + scene.Duration
		}
		return []srtBlock{{start: scene.StartTime, end: end, text: text}}
	}

	var blocks []srtBlock
	for i := 0; i < len(scene.Subtitles); i += captionSpansPerBlock {
		j := i + captionSpansPerBlock
		if j > len(scene.Subtitles) {
			j = len(scene.Subtitles)
		}
		chunk := scene.Subtitles[i:j]
		parts := make([]string, 0, len(chunk))
		for _, span := range chunk {
			if t := strings.TrimSpace(span.Text); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) == 0 {
			continue
		}
		blocks = append(blocks, srtBlock{
			start: chunk[0].Start,
			end:   chunk[len(chunk)-1].End,
			text:  strings.Join(parts, " "),
		})
	}
	return blocks
}

// srtTimestamp 格式化为 HH:MM:SS,mmm
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(seconds*1000 + 0.5)
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
