package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"reelforge-server/models"
)

// ----------------------------------------------------------------------------
// fakes
// ----------------------------------------------------------------------------

type fakeStore struct {
	projects map[string]*models.Project
	statuses []string // SetStatus 调用轨迹
}

func newFakeStore(ps ...*models.Project) *fakeStore {
	s := &fakeStore{projects: map[string]*models.Project{}}
	for _, p := range ps {
		s.projects[p.ID] = p
	}
	return s
}

func (s *fakeStore) Get(id string) (*models.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) Save(p *models.Project) error {
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *fakeStore) SetStatus(id, status string) error {
	p, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("project %s not found", id)
	}
	p.Status = status
	s.statuses = append(s.statuses, status)
	return nil
}

type fakeResearcher struct {
	data *models.ResearchData
	err  error
}

func (f *fakeResearcher) PerformResearch(ctx context.Context, workspaceID, topic string) (*models.ResearchData, error) {
	return f.data, f.err
}

type fakeImages struct {
	failFor map[string]bool // 按 prompt 片段决定失败
	calls   int
}

func (f *fakeImages) AcquireSceneImage(ctx context.Context, apiKey, prompt, aspectRatio, destDir string) (string, string, error) {
	f.calls++
	for frag := range f.failFor {
		if strings.Contains(prompt, frag) {
			return "", "", &ProviderError{Backend: "fake", Err: errors.New("generation refused")}
		}
	}
	return filepath.Join(destDir, fmt.Sprintf("img_%d.png", f.calls)), models.ImageSourceAIGenerated, nil
}

type fakeVideo struct {
	failAll  bool
	failOdd  bool
	requests int
}

func (f *fakeVideo) AcquireSceneVideo(ctx context.Context, imagePath, narration, resolution, destDir string) (string, error) {
	f.requests++
	if f.failAll || (f.failOdd && f.requests%2 == 1) {
		return "", &ProviderError{Backend: BackendVideoWorker, Err: errors.New("worker overloaded")}
	}
	return filepath.Join(destDir, fmt.Sprintf("clip_%d.mp4", f.requests)), nil
}

type fakeProber struct {
	duration float64
	err      error
}

func (f *fakeProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return f.duration, f.err
}

type fakeAssembler struct {
	out      string
	err      error
	captured []models.TimelineScene
}

func (f *fakeAssembler) Assemble(ctx context.Context, scenes []models.TimelineScene, voiceoverPath, aspectRatio, outputDir string) (string, error) {
	f.captured = scenes
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

type fakeTranscriber struct {
	analysis *models.WhisperAnalysis
	err      error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (*models.WhisperAnalysis, error) {
	return f.analysis, f.err
}

type mapCreds map[string]string

func (m mapCreds) Get(workspaceID, backend string) (string, bool) {
	v, ok := m[workspaceID+"/"+backend]
	return v, ok
}

// chatStub 起一个 OpenAI 兼容的假后端，固定返回 content
func chatStub(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode stub response: %v", err)
		}
	}))
}

func newTestPipeline(store *fakeStore) (*Pipeline, *fakeImages, *fakeVideo, *fakeAssembler) {
	images := &fakeImages{}
	video := &fakeVideo{}
	asm := &fakeAssembler{out: "/tmp/final_video.mp4"}
	pl := &Pipeline{
		Store: store,
		Providers: &ProviderRegistry{
			Text:   map[string]*ChatBackend{},
			Images: map[string]ImageProvider{BackendPollinations: images},
			Video:  video,
		},
		Creds:       mapCreds{},
		Prober:      &fakeProber{duration: 30},
		Assembler:   asm,
		StorageRoot: "/tmp/reelforge-test",
	}
	return pl, images, video, asm
}

func draftProject() *models.Project {
	return &models.Project{
		ID:          "p1",
		WorkspaceID: "ws1",
		Topic:       "the history of coffee",
		Status:      models.ProjectStatusDraft,
	}
}

func projectWithTimeline() *models.Project {
	p := draftProject()
	p.Script = &models.Script{
		FullText: "scene one text scene two text",
		Scenes: []models.ScriptScene{
			{ID: "scene-1", Text: "scene one text", VisualDescription: "a cup of coffee"},
			{ID: "scene-2", Text: "scene two text", VisualDescription: "coffee beans roasting"},
		},
	}
	p.Voiceover = &models.Voiceover{FilePath: "/tmp/voice.mp3", Duration: 30}
	p.Timeline = &models.Timeline{
		TotalDuration: 30,
		Scenes: []models.TimelineScene{
			{ID: "scene-1", Order: 0, StartTime: 0, EndTime: 15, SceneText: "scene one text", SceneDescription: "a cup of coffee", ImagePrompt: "steaming cup"},
			{ID: "scene-2", Order: 1, StartTime: 15, EndTime: 30, SceneText: "scene two text", SceneDescription: "coffee beans roasting", ImagePrompt: "roasting beans"},
		},
	}
	p.Status = models.ProjectStatusVoiceoverUploaded
	return p
}

// ----------------------------------------------------------------------------
// research / script
// ----------------------------------------------------------------------------

func TestStartResearch_Success(t *testing.T) {
	stub := chatStub(t, `{"fullText":"full narration","scenes":[{"id":"scene-1","text":"hello","visualDescription":"a thing"},{"id":"scene-2","text":"world","visualDescription":"another thing"}]}`)
	defer stub.Close()

	store := newFakeStore(draftProject())
	pl, _, _, _ := newTestPipeline(store)
	pl.Providers.Text[BackendGroq] = NewChatBackend(BackendGroq, stub.URL, "test-model")
	pl.Providers.Research = &fakeResearcher{data: &models.ResearchData{Summary: "coffee is old", Sources: []string{"http://x"}}}
	pl.Creds = mapCreds{"ws1/groq": "key"}

	p, err := pl.StartResearch(context.Background(), "p1", "", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != models.ProjectStatusScriptReady {
		t.Errorf("status = %q, want script-ready", p.Status)
	}
	if p.Script == nil || len(p.Script.Scenes) != 2 {
		t.Fatalf("script not written: %+v", p.Script)
	}
	if p.ResearchData == nil || p.ResearchData.Summary != "coffee is old" {
		t.Errorf("research data not written: %+v", p.ResearchData)
	}

	saved, _ := store.Get("p1")
	if saved.Status != models.ProjectStatusScriptReady {
		t.Errorf("persisted status = %q, want script-ready", saved.Status)
	}
}

func TestStartResearch_OverwritesStaleTimeline(t *testing.T) {
	stub := chatStub(t, `{"fullText":"new","scenes":[{"id":"scene-1","text":"new text","visualDescription":"new visual"}]}`)
	defer stub.Close()

	p := projectWithTimeline()
	p.Status = models.ProjectStatusFailed
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)
	pl.Providers.Text[BackendGroq] = NewChatBackend(BackendGroq, stub.URL, "test-model")
	pl.Providers.Research = &fakeResearcher{data: &models.ResearchData{Summary: "s"}}
	pl.Creds = mapCreds{"ws1/groq": "key"}

	got, err := pl.StartResearch(context.Background(), "p1", "", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Timeline != nil {
		t.Errorf("stale timeline must be cleared on re-research")
	}
	if len(got.Script.Scenes) != 1 {
		t.Errorf("script not overwritten: %+v", got.Script)
	}
}

func TestStartResearch_DurationHintAndToneReachBackend(t *testing.T) {
	var body string
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"fullText":"t","scenes":[{"id":"scene-1","text":"t","visualDescription":"v"}]}`}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode stub response: %v", err)
		}
	}))
	defer stub.Close()

	store := newFakeStore(draftProject())
	pl, _, _, _ := newTestPipeline(store)
	pl.Providers.Text[BackendGroq] = NewChatBackend(BackendGroq, stub.URL, "test-model")
	pl.Providers.Research = &fakeResearcher{data: &models.ResearchData{Summary: "s"}}
	pl.Creds = mapCreds{"ws1/groq": "key"}

	if _, err := pl.StartResearch(context.Background(), "p1", "", 90, "playful"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "about 90 seconds") {
		t.Errorf("duration hint missing from prompt: %s", body)
	}
	if !strings.Contains(body, "TONE: playful") {
		t.Errorf("tone missing from prompt: %s", body)
	}

	// 省略时默认 60 秒
	if _, err := pl.StartResearch(context.Background(), "p1", "", 0, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "about 60 seconds") {
		t.Errorf("default duration missing from prompt: %s", body)
	}
}

func TestStartResearch_ProviderFailureMarksFailed(t *testing.T) {
	store := newFakeStore(draftProject())
	pl, _, _, _ := newTestPipeline(store)
	pl.Providers.Research = &fakeResearcher{err: &ProviderError{Backend: "reddit", Err: errors.New("rate limited")}}

	_, err := pl.StartResearch(context.Background(), "p1", "", 0, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	saved, _ := store.Get("p1")
	if saved.Status != models.ProjectStatusFailed {
		t.Errorf("status = %q, want failed", saved.Status)
	}
}

func TestStartResearch_NoTopic(t *testing.T) {
	p := draftProject()
	p.Topic = ""
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)

	_, err := pl.StartResearch(context.Background(), "p1", "", 0, "")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	saved, _ := store.Get("p1")
	if saved.Status != models.ProjectStatusDraft {
		t.Errorf("precondition failure must not mutate status, got %q", saved.Status)
	}
}

// ----------------------------------------------------------------------------
// voiceover
// ----------------------------------------------------------------------------

func TestAttachVoiceover_RequiresScript(t *testing.T) {
	store := newFakeStore(draftProject())
	pl, _, _, _ := newTestPipeline(store)

	_, err := pl.AttachVoiceover(context.Background(), "p1", "/tmp/voice.mp3")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	saved, _ := store.Get("p1")
	if saved.Status != models.ProjectStatusDraft {
		t.Errorf("status mutated on precondition failure: %q", saved.Status)
	}
}

func TestAttachVoiceover_AlignsTimeline(t *testing.T) {
	p := draftProject()
	p.Script = &models.Script{Scenes: []models.ScriptScene{
		{ID: "scene-1", Text: "one two three"},
		{ID: "scene-2", Text: "four five six"},
	}}
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)

	got, err := pl.AttachVoiceover(context.Background(), "p1", "/tmp/voice.mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.ProjectStatusVoiceoverUploaded {
		t.Errorf("status = %q, want voiceover-uploaded", got.Status)
	}
	if got.Voiceover == nil || got.Voiceover.Duration != 30 {
		t.Errorf("voiceover not written: %+v", got.Voiceover)
	}
	if got.Timeline == nil || !got.Timeline.IsContiguous() {
		t.Errorf("timeline must be contiguous: %+v", got.Timeline)
	}
	if got.Timeline.TotalDuration != 30 {
		t.Errorf("timeline total = %v, want 30", got.Timeline.TotalDuration)
	}
}

func TestAttachVoiceover_TranscribeFailureDegrades(t *testing.T) {
	p := draftProject()
	p.Script = &models.Script{Scenes: []models.ScriptScene{{ID: "scene-1", Text: "hello world"}}}
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)
	pl.Providers.Transcriber = &fakeTranscriber{err: errors.New("transcriber down")}

	got, err := pl.AttachVoiceover(context.Background(), "p1", "/tmp/voice.mp3")
	if err != nil {
		t.Fatalf("transcribe failure must degrade, not fail: %v", err)
	}
	if got.WhisperAnalysis != nil {
		t.Errorf("analysis should be nil after degraded transcription")
	}
	if got.Timeline == nil || len(got.Timeline.Scenes) != 1 {
		t.Errorf("proportional timeline still expected: %+v", got.Timeline)
	}
}

// ----------------------------------------------------------------------------
// images
// ----------------------------------------------------------------------------

func TestGenerateImages_RequiresTimeline(t *testing.T) {
	store := newFakeStore(draftProject())
	pl, _, _, _ := newTestPipeline(store)

	_, _, err := pl.GenerateImages(context.Background(), "p1", "", "", "9:16")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
}

func TestGenerateImages_PexelsRequiresCredential(t *testing.T) {
	store := newFakeStore(projectWithTimeline())
	pl, images, _, _ := newTestPipeline(store)
	pl.Providers.Images[BackendPexels] = images

	_, _, err := pl.GenerateImages(context.Background(), "p1", BackendPexels, "", "9:16")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	saved, _ := store.Get("p1")
	if saved.Status != models.ProjectStatusVoiceoverUploaded {
		t.Errorf("status mutated on credential precondition failure: %q", saved.Status)
	}
}

func TestGenerateImages_PartialFailureStillAdvances(t *testing.T) {
	store := newFakeStore(projectWithTimeline())
	pl, images, _, _ := newTestPipeline(store)
	images.failFor = map[string]bool{"roasting": true}

	p, results, err := pl.GenerateImages(context.Background(), "p1", "", "", "9:16")
	if err != nil {
		t.Fatalf("per-scene failure must not abort the batch: %v", err)
	}
	if p.Status != models.ProjectStatusImagesReady {
		t.Errorf("status = %q, want images-ready", p.Status)
	}
	if len(results) != 2 {
		t.Fatalf("result count = %d, want 2", len(results))
	}
	if !results[0].OK || results[1].OK {
		t.Errorf("results = %+v, want first ok / second failed", results)
	}
	if p.Timeline.Scenes[0].ImagePath == "" {
		t.Errorf("successful scene must keep its image path")
	}
	if p.Timeline.Scenes[1].ImagePath != "" {
		t.Errorf("failed scene must surface as missing imagePath")
	}
}

func TestGenerateImages_KeepsUploadedImages(t *testing.T) {
	p := projectWithTimeline()
	p.Timeline.Scenes[0].ImagePath = "/tmp/user.png"
	p.Timeline.Scenes[0].ImageSource = models.ImageSourceUploaded
	store := newFakeStore(p)
	pl, images, _, _ := newTestPipeline(store)

	got, _, err := pl.GenerateImages(context.Background(), "p1", "", "", "9:16")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Timeline.Scenes[0].ImagePath != "/tmp/user.png" {
		t.Errorf("uploaded image must not be overwritten, got %q", got.Timeline.Scenes[0].ImagePath)
	}
	if images.calls != 1 {
		t.Errorf("backend calls = %d, want 1 (only the non-uploaded scene)", images.calls)
	}
}

// ----------------------------------------------------------------------------
// scene videos
// ----------------------------------------------------------------------------

func sceneImagesReady() *models.Project {
	p := projectWithTimeline()
	p.Timeline.Scenes[0].ImagePath = "/tmp/a.png"
	p.Timeline.Scenes[1].ImagePath = "/tmp/b.png"
	p.Status = models.ProjectStatusImagesReady
	return p
}

func TestGenerateSceneVideos_RequiresAllImages(t *testing.T) {
	p := projectWithTimeline()
	p.Timeline.Scenes[0].ImagePath = "/tmp/a.png" // 第二镜缺图
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)

	_, _, err := pl.GenerateSceneVideos(context.Background(), "p1", "9:16")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
}

func TestGenerateSceneVideos_PartialSuccessAdvances(t *testing.T) {
	store := newFakeStore(sceneImagesReady())
	pl, _, video, _ := newTestPipeline(store)
	video.failOdd = true // 第一镜失败，第二镜成功

	p, results, err := pl.GenerateSceneVideos(context.Background(), "p1", "9:16")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != models.ProjectStatusVideosReady {
		t.Errorf("status = %q, want videos-ready", p.Status)
	}
	if results[0].OK || !results[1].OK {
		t.Errorf("results = %+v, want first failed / second ok", results)
	}
	if p.Timeline.Scenes[1].VideoPath == "" {
		t.Errorf("successful scene must carry a video path")
	}
}

func TestGenerateSceneVideos_AllFailedLeavesStatus(t *testing.T) {
	store := newFakeStore(sceneImagesReady())
	pl, _, video, _ := newTestPipeline(store)
	video.failAll = true

	p, results, err := pl.GenerateSceneVideos(context.Background(), "p1", "9:16")
	if err != nil {
		t.Fatalf("zero-success batch is not an error: %v", err)
	}
	// 全部失败：状态保持不变（静态图仍是有效兜底），不是 failed
	if p.Status != models.ProjectStatusImagesReady {
		t.Errorf("status = %q, want unchanged images-ready", p.Status)
	}
	for _, r := range results {
		if r.OK {
			t.Errorf("unexpected success in %+v", results)
		}
	}
}

// ----------------------------------------------------------------------------
// final video
// ----------------------------------------------------------------------------

func TestGenerateFinalVideo_Preconditions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Project)
	}{
		{"no voiceover", func(p *models.Project) { p.Voiceover = nil }},
		{"empty timeline", func(p *models.Project) { p.Timeline = nil }},
		{"missing scene image", func(p *models.Project) { p.Timeline.Scenes[1].ImagePath = "" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := sceneImagesReady()
			c.mutate(p)
			store := newFakeStore(p)
			pl, _, _, _ := newTestPipeline(store)

			_, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", "")
			var pre *PreconditionError
			if !errors.As(err, &pre) {
				t.Fatalf("err = %v, want PreconditionError", err)
			}
			saved, _ := store.Get("p1")
			if saved.Status == models.ProjectStatusProcessing || saved.Status == models.ProjectStatusFailed {
				t.Errorf("precondition failure must not mutate status, got %q", saved.Status)
			}
		})
	}
}

func TestGenerateFinalVideo_MissingImagesNamedByCount(t *testing.T) {
	p := sceneImagesReady()
	p.Timeline.Scenes[0].ImagePath = ""
	p.Timeline.Scenes[1].ImagePath = ""
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)

	_, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", "")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	if !strings.Contains(pre.Message, "2") {
		t.Errorf("message must carry the count of imageless scenes, got %q", pre.Message)
	}
	for _, id := range []string{"scene-1", "scene-2"} {
		if !strings.Contains(pre.Message, id) {
			t.Errorf("message should list %s, got %q", id, pre.Message)
		}
	}
}

func TestGenerateFinalVideo_ApprovalGate(t *testing.T) {
	p := sceneImagesReady()
	p.RequireApproval = true
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)

	_, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", "")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("unapproved project must be rejected, got %v", err)
	}

	// 审批链路走通后放行
	if _, err := pl.SubmitForApproval("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := pl.ReviewProject("p1", true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", "")
	if err != nil {
		t.Fatalf("approved project must assemble: %v", err)
	}
	if got.Status != models.ProjectStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestGenerateFinalVideo_Success(t *testing.T) {
	store := newFakeStore(sceneImagesReady())
	pl, _, _, asm := newTestPipeline(store)

	p, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != models.ProjectStatusCompleted {
		t.Errorf("status = %q, want completed", p.Status)
	}
	if p.Output == nil || p.Output.VideoPath != "/tmp/final_video.mp4" {
		t.Errorf("output not written: %+v", p.Output)
	}
	// 没有字幕的分镜在合成前要从旁白重建字幕
	for i, s := range asm.captured {
		if len(s.Subtitles) == 0 {
			t.Errorf("scene %d handed to assembler without captions", i)
		}
	}
	// 中途要经过 processing
	found := false
	for _, st := range store.statuses {
		if st == models.ProjectStatusProcessing {
			found = true
		}
	}
	if !found {
		t.Errorf("status trail %v missing processing", store.statuses)
	}
}

func TestGenerateFinalVideo_AssemblerErrorSurfacedVerbatim(t *testing.T) {
	store := newFakeStore(sceneImagesReady())
	pl, _, _, asm := newTestPipeline(store)
	asm.err = &EncoderError{ExitErr: errors.New("exit status 1"), StderrTail: "Invalid argument"}

	_, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", "")
	var ee *EncoderError
	if !errors.As(err, &ee) {
		t.Fatalf("assembler error must pass through verbatim, got %v", err)
	}
	saved, _ := store.Get("p1")
	if saved.Status != models.ProjectStatusFailed {
		t.Errorf("status = %q, want failed", saved.Status)
	}
}

func TestGenerateFinalVideo_IdempotentRerun(t *testing.T) {
	store := newFakeStore(sceneImagesReady())
	pl, _, _, _ := newTestPipeline(store)

	if _, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", ""); err != nil {
		t.Fatalf("first run: %v", err)
	}
	p, err := pl.GenerateFinalVideo(context.Background(), "p1", "9:16", "")
	if err != nil {
		t.Fatalf("second run must overwrite output: %v", err)
	}
	if p.Output == nil || p.Status != models.ProjectStatusCompleted {
		t.Errorf("rerun result wrong: status=%q output=%+v", p.Status, p.Output)
	}
}

// ----------------------------------------------------------------------------
// timeline edits
// ----------------------------------------------------------------------------

func TestAddRemoveScene(t *testing.T) {
	store := newFakeStore(projectWithTimeline())
	pl, _, _, _ := newTestPipeline(store)

	p, err := pl.AddScene("p1", models.TimelineScene{ID: "scene-x", StartTime: 7, EndTime: 9, SceneText: "inserted"}, 1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(p.Timeline.Scenes) != 3 || p.Timeline.Scenes[1].ID != "scene-x" {
		t.Fatalf("scene not inserted at position 1: %+v", p.Timeline.Scenes)
	}
	for i, s := range p.Timeline.Scenes {
		if s.Order != i {
			t.Errorf("scene %d order = %d, want %d", i, s.Order, i)
		}
	}

	if _, err := pl.AddScene("p1", models.TimelineScene{ID: "scene-x"}, 0); err == nil {
		t.Errorf("duplicate scene id must be rejected")
	}

	p, err = pl.RemoveScene("p1", "scene-x")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(p.Timeline.Scenes) != 2 || p.Timeline.SceneByID("scene-x") >= 0 {
		t.Errorf("scene not removed: %+v", p.Timeline.Scenes)
	}

	if _, err := pl.RemoveScene("p1", "missing"); err == nil {
		t.Errorf("removing unknown scene must fail")
	}
}

func TestUpdateTimeline_RejectsEmpty(t *testing.T) {
	store := newFakeStore(projectWithTimeline())
	pl, _, _, _ := newTestPipeline(store)

	if _, err := pl.UpdateTimeline("p1", &models.Timeline{}); err == nil {
		t.Errorf("empty timeline must be rejected")
	}
}

func TestReviewProject_Transitions(t *testing.T) {
	p := sceneImagesReady()
	p.RequireApproval = true
	store := newFakeStore(p)
	pl, _, _, _ := newTestPipeline(store)

	if _, err := pl.ReviewProject("p1", true); err == nil {
		t.Errorf("review outside pending-approval must fail")
	}

	if _, err := pl.SubmitForApproval("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := pl.ReviewProject("p1", false)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != models.ProjectStatusRejected {
		t.Errorf("status = %q, want rejected", got.Status)
	}
}
