package service

import (
	"context"

	"reelforge-server/models"
)

// 能力后端标识。后端集合是封闭的：注册表按这些 key 做策略分发。
const (
	BackendGroq         = "groq"
	BackendOpenAI       = "openai"
	BackendPollinations = "pollinations"
	BackendPexels       = "pexels"
	BackendReddit       = "reddit"
	BackendGoogleSearch = "google-search"
	BackendVideoWorker  = "video-worker"
	BackendTranscribe   = "transcribe"
)

// CredentialSource 按工作区查某后端的 API Key。凭证归外部账号层管，
// 核心只在阶段前置检查和调用时取用，不持有全局状态。
type CredentialSource interface {
	Get(workspaceID, backend string) (string, bool)
}

// DBCredentials 是 workspace_credential 表的 CredentialSource 实现
type DBCredentials struct{}

func (DBCredentials) Get(workspaceID, backend string) (string, bool) {
	key, err := models.GetCredential(workspaceID, backend)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

type ScriptRequest struct {
	Topic           string
	ResearchSummary string
	TargetDuration  int // 秒
	Tone            string
}

// ScriptProvider 生成结构化脚本。后端输出不合法时必须返回
// *GenerationFormatError，不允许返回半截数据。
type ScriptProvider interface {
	GenerateScript(ctx context.Context, apiKey string, req ScriptRequest) (*models.Script, error)
}

// PromptProvider 为每个分镜生成画面提示词，key 为 scene id
type PromptProvider interface {
	GenerateImagePrompts(ctx context.Context, apiKey string, scenes []models.ScriptScene, styleGuide string) (map[string]string, error)
}

type HashtagProvider interface {
	GenerateHashtags(ctx context.Context, apiKey string, topic, scriptExcerpt string) ([]string, error)
}

// ImageProvider 获取一张按宽高比出图的本地图片文件
type ImageProvider interface {
	AcquireSceneImage(ctx context.Context, apiKey, prompt, aspectRatio, destDir string) (path string, source string, err error)
}

// VideoProvider 图生视频。每个分镜独立调用，单个失败不影响其他分镜。
type VideoProvider interface {
	AcquireSceneVideo(ctx context.Context, imagePath, narration, resolution, destDir string) (string, error)
}

// Transcriber 返回词级时间（后端支持时）。Words 可能为空，调用方必须容忍。
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*models.WhisperAnalysis, error)
}

// Researcher 并发跑若干独立检索，单路失败只丢该路贡献
type Researcher interface {
	PerformResearch(ctx context.Context, workspaceID, topic string) (*models.ResearchData, error)
}

// ProviderRegistry 是固定的后端策略表。文本和图像各有两个后端，
// 由调用方传 backend key + 工作区凭证选择。
type ProviderRegistry struct {
	Text        map[string]*ChatBackend
	Images      map[string]ImageProvider
	Video       VideoProvider
	Transcriber Transcriber
	Research    Researcher
}

func (r *ProviderRegistry) TextBackend(name string) (*ChatBackend, error) {
	if name == "" {
		name = BackendGroq
	}
	b, ok := r.Text[name]
	if !ok || b == nil {
		return nil, &NoProviderAvailableError{Capability: "text generation (" + name + ")"}
	}
	return b, nil
}

func (r *ProviderRegistry) ImageBackend(name string) (ImageProvider, error) {
	if name == "" {
		name = BackendPollinations
	}
	b, ok := r.Images[name]
	if !ok || b == nil {
		return nil, &NoProviderAvailableError{Capability: "image acquisition (" + name + ")"}
	}
	return b, nil
}
