package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"reelforge-server/models"

	"github.com/google/uuid"
)

const (
	assembleFPS = 30
	// Ken Burns 缓慢推近的目标倍率
	kenBurnsZoom = 1.12
)

// Assembler 负责把时间轴 + 素材 + 配音合成最终视频。对外部编码器（ffmpeg）
// 只发起一次调用，整个滤镜图在参数里构造完成。
type Assembler struct {
	Bin      string
	ProbeBin string
}

func NewAssembler(bin, probeBin string) *Assembler {
	if bin == "" {
		bin = "ffmpeg"
	}
	if probeBin == "" {
		probeBin = "ffprobe"
	}
	return &Assembler{Bin: bin, ProbeBin: probeBin}
}

// Assemble 合成最终视频并返回输出文件路径。
// 每个分镜按是否有 VideoPath 选择静态图（Ken Burns）或预生成短片（裁剪/循环到
// 分镜时长），统一缩放到目标分辨率后按序拼接，字幕烧录为像素，配音 1:1 混流，
// 总时长以音频为上界（-shortest）。
func (a *Assembler) Assemble(ctx context.Context, scenes []models.TimelineScene, voiceoverPath, aspectRatio, outputDir string) (string, error) {
	if len(scenes) == 0 {
		return "", preconditionf("timeline has no scenes to assemble")
	}

	// 编码器开跑之前把所有引用文件查一遍，缺哪个直接指名报错
	if err := fileMustExist(voiceoverPath, "voiceover"); err != nil {
		return "", err
	}
	for _, s := range scenes {
		if s.VideoPath != "" {
			if err := fileMustExist(s.VideoPath, "video"); err != nil {
				return "", err
			}
			continue
		}
		if err := fileMustExist(s.ImagePath, "image"); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}

	// 字幕临时文件用随机名，避免并发合成互踩；进程退出后清理
	srtPath := filepath.Join(outputDir, fmt.Sprintf("captions_%s.srt", uuid.NewString()[:8]))
	if err := os.WriteFile(srtPath, []byte(FormatSRT(scenes)), 0644); err != nil {
		return "", fmt.Errorf("write subtitle file: %w", err)
	}
	defer os.Remove(srtPath)

	outputPath := filepath.Join(outputDir, "final_video.mp4")
	w, h := resolutionFor(aspectRatio)
	args := buildEncodeArgs(scenes, voiceoverPath, srtPath, w, h, outputPath)

	log.Printf("[assemble] %s %s", a.Bin, strings.Join(args[:min(len(args), 12)], " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.Bin, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", &EncoderNotFoundError{Bin: a.Bin}
		}
		return "", &EncoderError{ExitErr: err, StderrTail: stderrTail(stderr.String(), 12)}
	}
	return outputPath, nil
}

// buildEncodeArgs 构造一次性 ffmpeg 参数：每个分镜一路输入，滤镜图做
// 缩放/裁剪 + Ken Burns 或 trim/loop，concat 后烧字幕，最后混入配音。
func buildEncodeArgs(scenes []models.TimelineScene, voiceoverPath, srtPath string, width, height int, outputPath string) []string {
	args := []string{"-y"}

	for _, s := range scenes {
		d := sceneDuration(s)
		if s.VideoPath != "" {
			// 预生成短片：循环输入，滤镜里 trim 到精确时长
			args = append(args, "-stream_loop", "-1", "-t", formatSeconds(d), "-i", s.VideoPath)
		} else {
			args = append(args, "-loop", "1", "-t", formatSeconds(d), "-i", s.ImagePath)
		}
	}
	args = append(args, "-i", voiceoverPath)

	var filter strings.Builder
	for i, s := range scenes {
		d := sceneDuration(s)
		if s.VideoPath != "" {
			fmt.Fprintf(&filter,
				"[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,fps=%d,trim=duration=%s,setpts=PTS-STARTPTS[v%d];",
				i, width, height, width, height, assembleFPS, formatSeconds(d), i)
			continue
		}
		// 静态图：先放大再 zoompan，避免推近时抖动
		frames := int(d*assembleFPS + 0.5)
		if frames < 1 {
			frames = 1
		}
		zoomStep := (kenBurnsZoom - 1.0) / float64(frames)
		fmt.Fprintf(&filter,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,zoompan=z='min(zoom+%.6f,%.3f)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d,trim=duration=%s,setpts=PTS-STARTPTS[v%d];",
			i, width*2, height*2, width*2, height*2,
			zoomStep, kenBurnsZoom, frames, width, height, assembleFPS, formatSeconds(d), i)
	}
	for i := range scenes {
		fmt.Fprintf(&filter, "[v%d]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=0[vcat];", len(scenes))
	// 底部居中、加粗描边的烧录字幕
	fmt.Fprintf(&filter,
		"[vcat]subtitles=%s:force_style='FontSize=16,Bold=1,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=2,Alignment=2,MarginV=48'[vout]",
		escapeFilterPath(srtPath))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[vout]",
		"-map", fmt.Sprintf("%d:a", len(scenes)),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(assembleFPS),
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		outputPath,
	)
	return args
}

// ProbeDuration 用 ffprobe 读媒体时长（秒）
func (a *Assembler) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.ProbeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return 0, &EncoderNotFoundError{Bin: a.ProbeBin}
		}
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

// sceneDuration 优先用对齐产出的区间，手工编辑破坏了区间就回退到 Duration 字段
func sceneDuration(s models.TimelineScene) float64 {
	if d := s.EndTime - s.StartTime; d > 0 {
		return d
	}
	if s.Duration > 0 {
		return s.Duration
	}
	return 1.0
}

func resolutionFor(aspectRatio string) (int, int) {
	switch aspectRatio {
	case "16:9":
		return 1920, 1080
	case "1:1":
		return 1080, 1080
	default: // 9:16 竖屏是默认
		return 1080, 1920
	}
}

func fileMustExist(path, role string) error {
	if path == "" {
		return &MissingFileError{Path: "(empty)", Role: role}
	}
	if _, err := os.Stat(path); err != nil {
		return &MissingFileError{Path: path, Role: role}
	}
	return nil
}

func stderrTail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}

// ffmpeg subtitles 滤镜的路径需要转义冒号和反斜杠
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	return path
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
