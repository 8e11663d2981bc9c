package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ImagePromptPending 表示提示词尚未生成（Aligner 初始化时写入的占位值）
const ImagePromptPending = "pending"

// ScriptScene 是脚本中的一个分镜：旁白文本 + 画面描述
type ScriptScene struct {
	ID                string `json:"id"`
	Text              string `json:"text"`
	VisualDescription string `json:"visualDescription"`
}

type Script struct {
	FullText string        `json:"fullText"`
	Scenes   []ScriptScene `json:"scenes"`
}

type ResearchData struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Sources  []string `json:"sources"`
}

type Voiceover struct {
	FilePath   string    `json:"filePath"`
	Duration   float64   `json:"duration"` // 秒
	UploadedAt time.Time `json:"uploadedAt"`
}

// Word / SegmentTiming 来自转写服务；Words 可能为空，调用方需降级到 Segments 或纯脚本对齐
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type SegmentTiming struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type WhisperAnalysis struct {
	FullText string          `json:"fullText"`
	Words    []Word          `json:"words"`
	Segments []SegmentTiming `json:"segments"`
}

// CaptionSpan 是分镜内的一条字幕，区间必须落在所属分镜 [StartTime, EndTime] 内
type CaptionSpan struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TimelineScene 是时间轴上的一个分镜。Duration 与 EndTime-StartTime 冗余存储，
// 手工编辑后二者可能不一致，合成时以 Duration 兜底。
type TimelineScene struct {
	ID               string        `json:"id"`
	Order            int           `json:"order"`
	StartTime        float64       `json:"startTime"`
	EndTime          float64       `json:"endTime"`
	Duration         float64       `json:"duration"`
	SceneText        string        `json:"sceneText"`
	SceneDescription string        `json:"sceneDescription"`
	ImagePrompt      string        `json:"imagePrompt"`
	ImagePath        string        `json:"imagePath"`
	ImageSource      string        `json:"imageSource"`
	VideoPath        string        `json:"videoPath,omitempty"`
	Subtitles        []CaptionSpan `json:"subtitles"`
}

type Timeline struct {
	Scenes        []TimelineScene `json:"scenes"`
	TotalDuration float64         `json:"totalDuration"`
}

type Output struct {
	VideoPath   string    `json:"videoPath"`
	PublicURL   string    `json:"publicUrl,omitempty"`
	Hashtags    []string  `json:"hashtags"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Normalize 重排 Order 并按 EndTime-StartTime 回填 Duration。
// 手工编辑时间轴后调用，保证 Order 与数组下标一致。
func (t *Timeline) Normalize() {
	for i := range t.Scenes {
		t.Scenes[i].Order = i
		d := t.Scenes[i].EndTime - t.Scenes[i].StartTime
		if d > 0 {
			t.Scenes[i].Duration = d
		}
	}
}

// IsContiguous 校验 Aligner 产出的不变量：首分镜从 0 开始、相邻分镜首尾相接、
// 末分镜结束于总时长。手工编辑允许破坏该不变量，调用方只用它做诊断。
func (t *Timeline) IsContiguous() bool {
	const eps = 1e-3
	if len(t.Scenes) == 0 {
		return t.TotalDuration == 0
	}
	if math.Abs(t.Scenes[0].StartTime) > eps {
		return false
	}
	for i := 0; i < len(t.Scenes)-1; i++ {
		if math.Abs(t.Scenes[i].EndTime-t.Scenes[i+1].StartTime) > eps {
			return false
		}
	}
	return math.Abs(t.Scenes[len(t.Scenes)-1].EndTime-t.TotalDuration) <= eps
}

// SceneByID 按脚本分镜 id 查找，返回下标，未找到为 -1
func (t *Timeline) SceneByID(id string) int {
	for i := range t.Scenes {
		if t.Scenes[i].ID == id {
			return i
		}
	}
	return -1
}

// ============================================================================
// JSON 列的 driver.Valuer / sql.Scanner 实现（Go Struct <-> JSON 存储）
// ============================================================================

func jsonValue(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonScan(dst interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
		}
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dst)
}

func (s Script) Value() (driver.Value, error)  { return jsonValue(s) }
func (s *Script) Scan(value interface{}) error { return jsonScan(s, value) }

func (r ResearchData) Value() (driver.Value, error)  { return jsonValue(r) }
func (r *ResearchData) Scan(value interface{}) error { return jsonScan(r, value) }

func (v Voiceover) Value() (driver.Value, error)  { return jsonValue(v) }
func (v *Voiceover) Scan(value interface{}) error { return jsonScan(v, value) }

func (w WhisperAnalysis) Value() (driver.Value, error)  { return jsonValue(w) }
func (w *WhisperAnalysis) Scan(value interface{}) error { return jsonScan(w, value) }

func (t Timeline) Value() (driver.Value, error)  { return jsonValue(t) }
func (t *Timeline) Scan(value interface{}) error { return jsonScan(t, value) }

func (o Output) Value() (driver.Value, error)  { return jsonValue(o) }
func (o *Output) Scan(value interface{}) error { return jsonScan(o, value) }
