package service

import (
	"strings"

	"reelforge-server/models"
)

const (
	// 零词分镜的保底时长（秒）
	minSceneDuration = 0.5
	// 纯脚本模式下每条字幕的词数
	captionGroupWords = 5
)

// Align 根据脚本和已知配音时长生成时间轴。有词级转写时走转写对齐，
// 否则按词数比例切分。对齐质量是 best-effort，任何失配都降级，不报错。
func Align(scenes []models.ScriptScene, totalDuration float64, analysis *models.WhisperAnalysis) models.Timeline {
	if len(scenes) == 0 {
		return models.Timeline{}
	}
	if totalDuration <= 0 {
		return models.Timeline{Scenes: nil, TotalDuration: 0}
	}

	if analysis != nil && len(analysis.Words) > 0 {
		if tl, ok := alignByTranscript(scenes, totalDuration, analysis.Words); ok {
			return tl
		}
	}

	tl := alignByWordCount(scenes, totalDuration)
	if analysis != nil && len(analysis.Words) == 0 && len(analysis.Segments) > 0 {
		// 没有词级数据但有分段：时间仍按比例切，字幕改用与分镜区间重叠的转写分段
		applySegmentCaptions(&tl, analysis.Segments)
	}
	return tl
}

// alignByWordCount 按旁白词数比例分配时长。零词分镜拿保底时长，
// 剩余时间在其余分镜间按词数比例摊分；全部为零词时平均切分。
func alignByWordCount(scenes []models.ScriptScene, totalDuration float64) models.Timeline {
	counts := make([]int, len(scenes))
	totalWords := 0
	for i, s := range scenes {
		counts[i] = len(strings.Fields(s.Text))
		totalWords += counts[i]
	}

	durations := make([]float64, len(scenes))
	if totalWords == 0 {
		equal := totalDuration / float64(len(scenes))
		for i := range durations {
			durations[i] = equal
		}
	} else {
		floorTotal := 0.0
		for i, c := range counts {
			if c == 0 {
				durations[i] = minSceneDuration
				floorTotal += minSceneDuration
			}
		}
		remaining := totalDuration - floorTotal
		if remaining < 0 {
			// 保底之和已超过总时长（配音极短），等比压缩保底避免末分镜被挤成负数
			scale := totalDuration / floorTotal
			for i := range durations {
				durations[i] *= scale
			}
			remaining = 0
		}
		for i, c := range counts {
			if c > 0 {
				durations[i] = remaining * float64(c) / float64(totalWords)
			}
		}
	}

	tl := models.Timeline{TotalDuration: totalDuration}
	elapsed := 0.0
	for i, s := range scenes {
		start := elapsed
		end := start + durations[i]
		if i == len(scenes)-1 {
			end = totalDuration // 吃掉浮点误差，保证末分镜顶到总时长
		}
		scene := newTimelineScene(s, i, start, end)
		scene.Subtitles = groupCaptions(s.Text, start, end)
		tl.Scenes = append(tl.Scenes, scene)
		elapsed = end
	}
	return tl
}

// alignByTranscript 把各分镜的旁白词贪心匹配到转写词流上。
// 分镜边界取每个分镜首个命中词的开始时间，再拉直成首尾相接的时间轴；
// 匹配不到任何分镜时返回 ok=false，调用方降级为比例切分。
func alignByTranscript(scenes []models.ScriptScene, totalDuration float64, words []models.Word) (models.Timeline, bool) {
	type match struct {
		firstWord int // 转写词下标
		lastWord  int
	}
	matches := make([]*match, len(scenes))

	cursor := 0
	anyMatched := false
	for si, s := range scenes {
		sceneWords := normalizeWords(s.Text)
		if len(sceneWords) == 0 || cursor >= len(words) {
			continue
		}

		m := &match{firstWord: -1}
		consumed := 0
		startCursor := cursor
		for cursor < len(words) && consumed < len(sceneWords) {
			if wordsMatch(sceneWords[consumed], words[cursor].Word) {
				if m.firstWord < 0 {
					m.firstWord = cursor
				}
				m.lastWord = cursor
				consumed++
				cursor++
			} else if m.firstWord < 0 {
				// 分镜还没开头，跳过口水词/转写噪声继续找
				cursor++
			} else {
				// 分镜中途失配，容忍单个词的出入
				cursor++
				consumed++
			}
		}
		if m.firstWord >= 0 && consumed > 0 {
			matches[si] = m
			anyMatched = true
		} else {
			// 整镜没对上：把游标还回去，别把后面分镜的词吃掉
			cursor = startCursor
		}
	}

	if !anyMatched {
		return models.Timeline{}, false
	}

	// 边界：首分镜从 0 开始，其后各分镜从其首个命中词开始；未匹配的尾部分镜
	// 按比例摊分剩余时间。边界单调不减，最终整体首尾相接。
	starts := make([]float64, len(scenes)+1)
	starts[len(scenes)] = totalDuration
	prev := 0.0
	for i := range scenes {
		if i == 0 {
			starts[i] = 0 // 首分镜永远从 0 开始
			continue
		}
		if matches[i] != nil {
			st := words[matches[i].firstWord].Start
			if st < prev {
				st = prev
			}
			if st > totalDuration {
				st = totalDuration
			}
			starts[i] = st
			prev = st
		} else {
			starts[i] = -1 // 待回填
		}
	}
	// 未匹配分镜的边界在前后有效边界之间等分
	fillProportional(starts)

	tl := models.Timeline{TotalDuration: totalDuration}
	for i, s := range scenes {
		scene := newTimelineScene(s, i, starts[i], starts[i+1])
		if matches[i] != nil {
			for wi := matches[i].firstWord; wi <= matches[i].lastWord; wi++ {
				span := models.CaptionSpan{
					Start: clamp(words[wi].Start, scene.StartTime, scene.EndTime),
					End:   clamp(words[wi].End, scene.StartTime, scene.EndTime),
					Text:  words[wi].Word,
				}
				scene.Subtitles = append(scene.Subtitles, span)
			}
		} else {
			scene.Subtitles = groupCaptions(s.Text, scene.StartTime, scene.EndTime)
		}
		tl.Scenes = append(tl.Scenes, scene)
	}
	return tl, true
}

// fillProportional 把 starts 中为 -1 的边界在前后两个有效边界之间等距回填
func fillProportional(starts []float64) {
	n := len(starts)
	for i := 0; i < n; i++ {
		if starts[i] >= 0 {
			continue
		}
		lo := i - 1 // starts[0] 恒有效
		hi := i
		for hi < n && starts[hi] < 0 {
			hi++
		}
		gap := starts[hi] - starts[lo]
		count := hi - lo
		for j := lo + 1; j < hi; j++ {
			starts[j] = starts[lo] + gap*float64(j-lo)/float64(count)
		}
		i = hi
	}
}

func applySegmentCaptions(tl *models.Timeline, segments []models.SegmentTiming) {
	for i := range tl.Scenes {
		scene := &tl.Scenes[i]
		var spans []models.CaptionSpan
		for _, seg := range segments {
			if seg.End <= scene.StartTime || seg.Start >= scene.EndTime {
				continue
			}
			spans = append(spans, models.CaptionSpan{
				Start: clamp(seg.Start, scene.StartTime, scene.EndTime),
				End:   clamp(seg.End, scene.StartTime, scene.EndTime),
				Text:  strings.TrimSpace(seg.Text),
			})
		}
		if len(spans) > 0 {
			scene.Subtitles = spans
		}
	}
}

// groupCaptions 把旁白按固定词数分组，在分镜区间内平铺
func groupCaptions(text string, start, end float64) []models.CaptionSpan {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	var groups []string
	for i := 0; i < len(fields); i += captionGroupWords {
		j := i + captionGroupWords
		if j > len(fields) {
			j = len(fields)
		}
		groups = append(groups, strings.Join(fields[i:j], " "))
	}

	span := (end - start) / float64(len(groups))
	var out []models.CaptionSpan
	for i, g := range groups {
		out = append(out, models.CaptionSpan{
			Start: start + span*float64(i),
			End:   start + span*float64(i+1),
			Text:  g,
		})
	}
	return out
}

func newTimelineScene(s models.ScriptScene, order int, start, end float64) models.TimelineScene {
	return models.TimelineScene{
		ID:               s.ID,
		Order:            order,
		StartTime:        start,
		EndTime:          end,
		Duration:         end - start,
		SceneText:        s.Text,
		SceneDescription: s.VisualDescription,
		ImagePrompt:      models.ImagePromptPending,
	}
}

func normalizeWords(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := normalizeWord(f); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// normalizeWord 去标点、转小写，转写词和脚本词都过同一个口径
func normalizeWord(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(w) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func wordsMatch(scriptWord, transcriptWord string) bool {
	tw := normalizeWord(transcriptWord)
	if scriptWord == "" || tw == "" {
		return false
	}
	return scriptWord == tw || strings.Contains(scriptWord, tw) || strings.Contains(tw, scriptWord)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
