package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"reelforge-server/models"
)

// ProjectStore 是流水线对项目文档的读写口。生产环境由 models 包实现，
// 测试用内存假实现。
type ProjectStore interface {
	Get(id string) (*models.Project, error)
	Save(p *models.Project) error
	SetStatus(id, status string) error
}

// DBProjects 是 MySQL 存储的 ProjectStore 实现
type DBProjects struct{}

func (DBProjects) Get(id string) (*models.Project, error)  { return models.GetProjectByID(id) }
func (DBProjects) Save(p *models.Project) error            { return models.SaveProject(p) }
func (DBProjects) SetStatus(id, status string) error       { return models.UpdateProjectStatus(id, status) }

// SceneResult 是批量图片/视频获取里单个分镜的结果。
// 批内单镜失败不中断其他分镜，失败只体现在这里和分镜缺失的产物路径上。
type SceneResult struct {
	SceneID string `json:"sceneId"`
	OK      bool   `json:"ok"`
	Path    string `json:"path,omitempty"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MediaProber 量音频/视频时长（ffprobe）。接口化便于测试。
type MediaProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// SceneAssembler 合成最终视频
type SceneAssembler interface {
	Assemble(ctx context.Context, scenes []models.TimelineScene, voiceoverPath, aspectRatio, outputDir string) (string, error)
}

// Pipeline 驱动项目状态机：每个阶段在一次请求内同步执行完，
// 读出项目文档、内存修改、阶段结束整体写回。阶段前置检查不通过时
// 返回 *PreconditionError 且不落任何状态变更。
type Pipeline struct {
	Store       ProjectStore
	Providers   *ProviderRegistry
	Creds       CredentialSource
	Prober      MediaProber
	Assembler   SceneAssembler
	StorageRoot string
}

func (pl *Pipeline) projectDir(p *models.Project) string {
	return filepath.Join(pl.StorageRoot, p.WorkspaceID, p.ID)
}

// failStage 把项目标记为 failed 并把阶段错误原样抛给调用方
func (pl *Pipeline) failStage(projectID, stage string, err error) error {
	log.Printf("[pipeline] 项目 %s %s 阶段失败: %v", projectID, stage, err)
	if serr := pl.Store.SetStatus(projectID, models.ProjectStatusFailed); serr != nil {
		log.Printf("[pipeline] 标记 failed 状态失败: %v", serr)
	}
	return err
}

// StartResearch 执行选题调研 + 脚本生成，成功后进入 script-ready。
// 重复触发会整体覆盖 researchData 和 script。
// durationHint 为 0 时默认 60 秒，tone 为空表示不限定语气。
func (pl *Pipeline) StartResearch(ctx context.Context, projectID, textBackend string, durationHint int, tone string) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if p.Topic == "" {
		return nil, preconditionf("项目没有选题，无法调研")
	}

	if err := pl.Store.SetStatus(p.ID, models.ProjectStatusResearching); err != nil {
		return nil, err
	}
	p.Status = models.ProjectStatusResearching

	research, err := pl.Providers.Research.PerformResearch(ctx, p.WorkspaceID, p.Topic)
	if err != nil {
		return nil, pl.failStage(p.ID, "research", err)
	}

	backend, apiKey, err := pl.textBackendFor(p.WorkspaceID, textBackend)
	if err != nil {
		return nil, pl.failStage(p.ID, "research", err)
	}
	if durationHint <= 0 {
		durationHint = 60
	}
	script, err := backend.GenerateScript(ctx, apiKey, ScriptRequest{
		Topic:           p.Topic,
		ResearchSummary: research.Summary,
		TargetDuration:  durationHint,
		Tone:            tone,
	})
	if err != nil {
		return nil, pl.failStage(p.ID, "script", err)
	}

	p.ResearchData = research
	p.Script = script
	// 脚本重做后旧的时间轴/配音分析不再匹配，一并清掉
	p.Timeline = nil
	p.WhisperAnalysis = nil
	p.Status = models.ProjectStatusScriptReady
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	log.Printf("[pipeline] 项目 %s 脚本生成完成，共 %d 个分镜", p.ID, len(script.Scenes))
	return p, nil
}

// AttachVoiceover 接收已落盘的配音文件：量时长、尝试转写、跑对齐器写时间轴。
// 前置条件是脚本已生成；转写失败只降级为纯脚本比例对齐，不算阶段失败。
func (pl *Pipeline) AttachVoiceover(ctx context.Context, projectID, audioPath string) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if p.Script == nil || len(p.Script.Scenes) == 0 {
		return nil, preconditionf("项目还没有脚本，先执行调研生成")
	}

	duration, err := pl.Prober.ProbeDuration(ctx, audioPath)
	if err != nil {
		return nil, pl.failStage(p.ID, "voiceover", fmt.Errorf("测量配音时长失败: %w", err))
	}
	if duration <= 0 {
		return nil, pl.failStage(p.ID, "voiceover", fmt.Errorf("配音时长无效: %.2f", duration))
	}

	var analysis *models.WhisperAnalysis
	if pl.Providers.Transcriber != nil {
		analysis, err = pl.Providers.Transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			// 转写只是对齐精度增强，失败降级
			log.Printf("[pipeline] 项目 %s 转写失败，降级为按词数比例对齐: %v", p.ID, err)
			analysis = nil
		}
	}

	timeline := Align(p.Script.Scenes, duration, analysis)

	p.Voiceover = &models.Voiceover{FilePath: audioPath, Duration: duration, UploadedAt: time.Now()}
	p.WhisperAnalysis = analysis
	p.Timeline = &timeline
	p.Status = models.ProjectStatusVoiceoverUploaded
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	log.Printf("[pipeline] 项目 %s 配音已接收 (%.2fs)，时间轴 %d 个分镜", p.ID, duration, len(timeline.Scenes))
	return p, nil
}

// GenerateImages 为每个分镜获取画面图片。单镜失败记录在结果里不阻塞其他分镜，
// 只要批次跑完状态即进 images-ready，缺图在最终合成的前置检查里兜底。
func (pl *Pipeline) GenerateImages(ctx context.Context, projectID, imageBackend, styleGuide, aspectRatio string) (*models.Project, []SceneResult, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, nil, err
	}
	if p.Timeline == nil || len(p.Timeline.Scenes) == 0 {
		return nil, nil, preconditionf("时间轴为空，先上传配音生成时间轴")
	}
	backend, err := pl.Providers.ImageBackend(imageBackend)
	if err != nil {
		return nil, nil, err
	}
	apiKey, err := pl.imageCredential(p.WorkspaceID, imageBackend)
	if err != nil {
		return nil, nil, err
	}

	pl.fillImagePrompts(ctx, p, styleGuide)

	destDir := pl.projectDir(p)
	results := make([]SceneResult, 0, len(p.Timeline.Scenes))
	for i := range p.Timeline.Scenes {
		scene := &p.Timeline.Scenes[i]
		if scene.ImageSource == models.ImageSourceUploaded && scene.ImagePath != "" {
			// 用户手动上传的图不覆盖
			results = append(results, SceneResult{SceneID: scene.ID, OK: true, Path: scene.ImagePath, Source: scene.ImageSource})
			continue
		}
		path, source, aerr := backend.AcquireSceneImage(ctx, apiKey, scene.ImagePrompt, aspectRatio, destDir)
		if aerr != nil {
			log.Printf("[pipeline] 项目 %s 分镜 %s 取图失败: %v", p.ID, scene.ID, aerr)
			results = append(results, SceneResult{SceneID: scene.ID, Error: aerr.Error()})
			continue
		}
		scene.ImagePath = path
		scene.ImageSource = source
		results = append(results, SceneResult{SceneID: scene.ID, OK: true, Path: path, Source: source})
	}

	p.Status = models.ProjectStatusImagesReady
	if err := pl.Store.Save(p); err != nil {
		return nil, nil, err
	}
	return p, results, nil
}

// GenerateSceneVideos 对每个分镜做图生视频。至少一个分镜成功才进 videos-ready，
// 全军覆没时保持原状态不动（静态图仍是有效兜底，不算 failed）。
func (pl *Pipeline) GenerateSceneVideos(ctx context.Context, projectID, aspectRatio string) (*models.Project, []SceneResult, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, nil, err
	}
	if p.Timeline == nil || len(p.Timeline.Scenes) == 0 {
		return nil, nil, preconditionf("时间轴为空")
	}
	for i := range p.Timeline.Scenes {
		if p.Timeline.Scenes[i].ImagePath == "" {
			return nil, nil, preconditionf("分镜 %s 还没有图片，先执行取图", p.Timeline.Scenes[i].ID)
		}
	}
	if pl.Providers.Video == nil {
		return nil, nil, &NoProviderAvailableError{Capability: "scene video generation"}
	}

	w, h := resolutionFor(aspectRatio)
	resolution := fmt.Sprintf("%dx%d", w, h)
	destDir := pl.projectDir(p)

	succeeded := 0
	results := make([]SceneResult, 0, len(p.Timeline.Scenes))
	for i := range p.Timeline.Scenes {
		scene := &p.Timeline.Scenes[i]
		path, verr := pl.Providers.Video.AcquireSceneVideo(ctx, scene.ImagePath, scene.SceneText, resolution, destDir)
		if verr != nil {
			log.Printf("[pipeline] 项目 %s 分镜 %s 图生视频失败: %v", p.ID, scene.ID, verr)
			results = append(results, SceneResult{SceneID: scene.ID, Error: verr.Error()})
			continue
		}
		scene.VideoPath = path
		succeeded++
		results = append(results, SceneResult{SceneID: scene.ID, OK: true, Path: path})
	}

	if succeeded > 0 {
		p.Status = models.ProjectStatusVideosReady
	}
	if err := pl.Store.Save(p); err != nil {
		return nil, nil, err
	}
	return p, results, nil
}

// GenerateFinalVideo 合成最终视频。硬前置：配音已上传、每个分镜都有图片、
// 审批策略开启时项目已 approved。字幕缺失时从脚本重建，合成器错误原样上抛。
func (pl *Pipeline) GenerateFinalVideo(ctx context.Context, projectID, aspectRatio, textBackend string) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if p.Voiceover == nil || p.Voiceover.FilePath == "" {
		return nil, preconditionf("配音未上传，无法合成")
	}
	if p.Timeline == nil || len(p.Timeline.Scenes) == 0 {
		return nil, preconditionf("时间轴为空，无法合成")
	}
	var missing []string
	for i := range p.Timeline.Scenes {
		if p.Timeline.Scenes[i].ImagePath == "" {
			missing = append(missing, p.Timeline.Scenes[i].ID)
		}
	}
	if len(missing) > 0 {
		return nil, preconditionf("%d 个分镜缺少图片，无法合成: %s", len(missing), strings.Join(missing, ", "))
	}
	if p.RequireApproval && p.Status != models.ProjectStatusApproved {
		return nil, preconditionf("工作区要求审批，项目当前状态 %s 未通过审批", p.Status)
	}

	if err := pl.Store.SetStatus(p.ID, models.ProjectStatusProcessing); err != nil {
		return nil, err
	}
	p.Status = models.ProjectStatusProcessing

	ensureCaptions(p.Timeline)

	outputPath, err := pl.Assembler.Assemble(ctx, p.Timeline.Scenes, p.Voiceover.FilePath, aspectRatio, pl.projectDir(p))
	if err != nil {
		return nil, pl.failStage(p.ID, "assemble", err)
	}

	p.Output = &models.Output{
		VideoPath:   outputPath,
		Hashtags:    pl.generateHashtags(ctx, p, textBackend),
		GeneratedAt: time.Now(),
	}
	p.Status = models.ProjectStatusCompleted
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	log.Printf("[pipeline] 项目 %s 合成完成: %s", p.ID, outputPath)
	return p, nil
}

// ============================================================================
// 时间轴手工编辑
// ============================================================================

// UpdateTimeline 整体替换时间轴（前端编辑器整体提交）。
// 手工编辑允许打破首尾相接不变量，只做 Order/Duration 归一化。
func (pl *Pipeline) UpdateTimeline(projectID string, timeline *models.Timeline) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if timeline == nil || len(timeline.Scenes) == 0 {
		return nil, preconditionf("时间轴不能为空")
	}
	timeline.Normalize()
	if !timeline.IsContiguous() {
		log.Printf("[pipeline] 项目 %s 手工时间轴非连续（允许）", p.ID)
	}
	p.Timeline = timeline
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddScene 在 order 位置插入一个分镜，后续分镜顺延
func (pl *Pipeline) AddScene(projectID string, scene models.TimelineScene, order int) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if p.Timeline == nil {
		return nil, preconditionf("时间轴不存在")
	}
	if scene.ID == "" {
		return nil, preconditionf("分镜缺少 id")
	}
	if p.Timeline.SceneByID(scene.ID) >= 0 {
		return nil, preconditionf("分镜 id %s 已存在", scene.ID)
	}
	scenes := p.Timeline.Scenes
	if order < 0 || order > len(scenes) {
		order = len(scenes)
	}
	scenes = append(scenes, models.TimelineScene{})
	copy(scenes[order+1:], scenes[order:])
	scenes[order] = scene
	p.Timeline.Scenes = scenes
	p.Timeline.Normalize()
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RemoveScene 按 id 删除分镜
func (pl *Pipeline) RemoveScene(projectID, sceneID string) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if p.Timeline == nil {
		return nil, preconditionf("时间轴不存在")
	}
	idx := p.Timeline.SceneByID(sceneID)
	if idx < 0 {
		return nil, preconditionf("分镜 %s 不存在", sceneID)
	}
	p.Timeline.Scenes = append(p.Timeline.Scenes[:idx], p.Timeline.Scenes[idx+1:]...)
	p.Timeline.Normalize()
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ============================================================================
// 审批分支（工作区策略开启时，final 合成只认 approved）
// ============================================================================

func (pl *Pipeline) SubmitForApproval(projectID string) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if !p.RequireApproval {
		return nil, preconditionf("该项目不需要审批")
	}
	if p.Voiceover == nil || p.Timeline == nil {
		return nil, preconditionf("素材未就绪，不能提交审批")
	}
	p.Status = models.ProjectStatusPendingApproval
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (pl *Pipeline) ReviewProject(projectID string, approve bool) (*models.Project, error) {
	p, err := pl.Store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProjectStatusPendingApproval {
		return nil, preconditionf("项目状态 %s 不在待审批", p.Status)
	}
	if approve {
		p.Status = models.ProjectStatusApproved
	} else {
		p.Status = models.ProjectStatusRejected
	}
	if err := pl.Store.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ============================================================================
// 内部辅助
// ============================================================================

// fillImagePrompts 补全缺失的画面提示词：优先用文本后端批量生成，
// 失败时用分镜画面描述拼确定性兜底提示词，不中断流水线。
func (pl *Pipeline) fillImagePrompts(ctx context.Context, p *models.Project, styleGuide string) {
	missing := false
	for i := range p.Timeline.Scenes {
		prompt := p.Timeline.Scenes[i].ImagePrompt
		if prompt == "" || prompt == models.ImagePromptPending {
			missing = true
			break
		}
	}
	if !missing {
		return
	}

	var prompts map[string]string
	if p.Script != nil {
		if backend, apiKey, err := pl.textBackendFor(p.WorkspaceID, ""); err == nil {
			prompts, err = backend.GenerateImagePrompts(ctx, apiKey, p.Script.Scenes, styleGuide)
			if err != nil {
				log.Printf("[pipeline] 项目 %s 提示词生成失败，使用画面描述兜底: %v", p.ID, err)
				prompts = nil
			}
		}
	}

	for i := range p.Timeline.Scenes {
		scene := &p.Timeline.Scenes[i]
		if scene.ImagePrompt != "" && scene.ImagePrompt != models.ImagePromptPending {
			continue
		}
		if prompt, ok := prompts[scene.ID]; ok && prompt != "" {
			scene.ImagePrompt = prompt
			continue
		}
		scene.ImagePrompt = fallbackPrompt(scene.SceneDescription, scene.SceneText, styleGuide)
	}
}

// fallbackPrompt 是确定性的提示词兜底：画面描述 + 风格，不走任何外部调用
func fallbackPrompt(description, sceneText, styleGuide string) string {
	base := strings.TrimSpace(description)
	if base == "" {
		base = truncateText(strings.TrimSpace(sceneText), 120)
	}
	if styleGuide != "" {
		return base + ", " + styleGuide
	}
	return base + ", cinematic lighting, high detail"
}

// ensureCaptions 为没有字幕的分镜从叙述文本重建分组字幕
func ensureCaptions(tl *models.Timeline) {
	for i := range tl.Scenes {
		scene := &tl.Scenes[i]
		if len(scene.Subtitles) > 0 || scene.SceneText == "" {
			continue
		}
		end := scene.EndTime
		if end <= scene.StartTime {
			end = scene.StartTime + sceneDuration(*scene)
		}
		scene.Subtitles = groupCaptions(scene.SceneText, scene.StartTime, end)
	}
}

// textBackendFor 选文本后端并取工作区凭证；指定后端没配凭证时直接报错，
// 未指定时按 groq -> openai 顺序找第一个有凭证的。
func (pl *Pipeline) textBackendFor(workspaceID, preferred string) (*ChatBackend, string, error) {
	if preferred != "" {
		backend, err := pl.Providers.TextBackend(preferred)
		if err != nil {
			return nil, "", err
		}
		key, ok := pl.Creds.Get(workspaceID, preferred)
		if !ok {
			return nil, "", preconditionf("工作区未配置 %s 凭证", preferred)
		}
		return backend, key, nil
	}
	for _, name := range []string{BackendGroq, BackendOpenAI} {
		if key, ok := pl.Creds.Get(workspaceID, name); ok {
			if backend, err := pl.Providers.TextBackend(name); err == nil {
				return backend, key, nil
			}
		}
	}
	return nil, "", &NoProviderAvailableError{Capability: "text generation"}
}

// imageCredential 做取图后端的凭证前置检查。pollinations 免凭证，
// pexels 必须有工作区 API Key。
func (pl *Pipeline) imageCredential(workspaceID, backend string) (string, error) {
	if backend == "" {
		backend = BackendPollinations
	}
	switch backend {
	case BackendPollinations:
		key, _ := pl.Creds.Get(workspaceID, backend)
		return key, nil
	default:
		key, ok := pl.Creds.Get(workspaceID, backend)
		if !ok {
			return "", preconditionf("工作区未配置 %s 凭证", backend)
		}
		return key, nil
	}
}

// generateHashtags 生成话题标签，纯 best-effort：失败返回空列表不影响完成状态
func (pl *Pipeline) generateHashtags(ctx context.Context, p *models.Project, textBackend string) []string {
	backend, apiKey, err := pl.textBackendFor(p.WorkspaceID, textBackend)
	if err != nil {
		return []string{}
	}
	excerpt := ""
	if p.Script != nil {
		excerpt = truncateText(p.Script.FullText, 400)
	}
	tags, err := backend.GenerateHashtags(ctx, apiKey, p.Topic, excerpt)
	if err != nil {
		log.Printf("[pipeline] 项目 %s 标签生成失败(忽略): %v", p.ID, err)
		return []string{}
	}
	return tags
}
