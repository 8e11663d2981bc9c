package service

import "fmt"

// PreconditionError: 所需前置产物缺失或凭证不存在。不落库、不改状态，
// HTTP 层映射为 400。
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func preconditionf(format string, args ...interface{}) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// ProviderError: 外部能力后端调用失败
type ProviderError struct {
	Backend string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Backend, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// GenerationFormatError: 后端返回了无法解析的结构化输出（如 LLM 没给合法 JSON）
type GenerationFormatError struct {
	Backend string
	Raw     string
	Err     error
}

func (e *GenerationFormatError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("%s returned malformed output: %v; raw: %s", e.Backend, e.Err, raw)
}

func (e *GenerationFormatError) Unwrap() error { return e.Err }

// NoProviderAvailableError: 没有任何已配置的后端可以承担该能力
type NoProviderAvailableError struct {
	Capability string
}

func (e *NoProviderAvailableError) Error() string {
	return fmt.Sprintf("no provider available for %s", e.Capability)
}

// MissingFileError: 合成前检查发现本地文件不存在，必须指名是哪个文件
type MissingFileError struct {
	Path string
	Role string // "image" | "video" | "voiceover"
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s file not found: %s", e.Role, e.Path)
}

// EncoderNotFoundError: ffmpeg 可执行文件不存在/未配置
type EncoderNotFoundError struct {
	Bin string
}

func (e *EncoderNotFoundError) Error() string {
	return fmt.Sprintf("encoder not installed or not configured: %s", e.Bin)
}

// EncoderError: 编码进程非零退出，带 stderr 尾部帮助排查
type EncoderError struct {
	ExitErr    error
	StderrTail string
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("encoder failed: %v\n%s", e.ExitErr, e.StderrTail)
}

func (e *EncoderError) Unwrap() error { return e.ExitErr }
