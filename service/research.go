package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"reelforge-server/models"

	"github.com/vartanbeno/go-reddit/v2/reddit"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// ResearchService 并发跑多路独立检索（reddit 讨论 + 网页搜索），单路失败只记日志、
// 丢掉该路贡献，最后用文本后端把素材汇总成摘要。一个可用后端都没有时返回
// *NoProviderAvailableError。
type ResearchService struct {
	Text     map[string]*ChatBackend
	Creds    CredentialSource
	SearchCx string // Google 自定义搜索的 cx，空则禁用网页检索
}

type researchFinding struct {
	source string
	texts  []string
	urls   []string
}

func (r *ResearchService) PerformResearch(ctx context.Context, workspaceID, topic string) (*models.ResearchData, error) {
	var (
		mu       sync.Mutex
		findings []researchFinding
		wg       sync.WaitGroup
	)

	collect := func(f researchFinding, err error) {
		if err != nil {
			log.Printf("[research] %s 检索失败（忽略该路）: %v", f.source, err)
			return
		}
		if len(f.texts) == 0 {
			return
		}
		mu.Lock()
		findings = append(findings, f)
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		f, err := searchReddit(ctx, topic)
		collect(f, err)
	}()

	if key, ok := r.Creds.Get(workspaceID, BackendGoogleSearch); ok && r.SearchCx != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := searchWeb(ctx, key, r.SearchCx, topic)
			collect(f, err)
		}()
	}

	wg.Wait()

	var material []string
	var sources []string
	for _, f := range findings {
		material = append(material, f.texts...)
		sources = append(sources, f.urls...)
	}

	backend, key, err := r.pickTextBackend(workspaceID)
	if err != nil {
		if len(material) == 0 {
			return nil, err
		}
		// 有素材但没有可用 LLM：降级为截断拼接
		log.Printf("[research] 无可用文本后端，摘要降级为素材拼接: %v", err)
		return &models.ResearchData{
			Summary:  truncateText(strings.Join(material, "\n"), 2000),
			Keywords: extractKeywords(topic),
			Sources:  sources,
		}, nil
	}

	if len(material) == 0 {
		material = []string{fmt.Sprintf("No external material found for topic %q; rely on general knowledge.", topic)}
	}
	summary, err := backend.SynthesizeSummary(ctx, key, topic, material)
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Printf("[research] 摘要汇总失败，降级为素材拼接: %v", err)
		summary = truncateText(strings.Join(material, "\n"), 2000)
	}

	return &models.ResearchData{
		Summary:  summary,
		Keywords: extractKeywords(topic),
		Sources:  sources,
	}, nil
}

func (r *ResearchService) pickTextBackend(workspaceID string) (*ChatBackend, string, error) {
	for _, name := range []string{BackendGroq, BackendOpenAI} {
		if b, ok := r.Text[name]; ok && b != nil {
			if key, ok := r.Creds.Get(workspaceID, name); ok {
				return b, key, nil
			}
		}
	}
	return nil, "", &NoProviderAvailableError{Capability: "research synthesis"}
}

// searchReddit 用只读客户端搜相关讨论帖，不需要凭证
func searchReddit(ctx context.Context, topic string) (researchFinding, error) {
	f := researchFinding{source: "reddit"}
	client, err := reddit.NewReadonlyClient()
	if err != nil {
		return f, err
	}

	posts, _, err := client.Subreddit.SearchPosts(ctx, topic, "all", &reddit.ListPostSearchOptions{
		ListPostOptions: reddit.ListPostOptions{
			ListOptions: reddit.ListOptions{Limit: 5},
		},
		Sort: "relevance",
	})
	if err != nil {
		return f, err
	}

	for _, p := range posts {
		text := p.Title
		if p.Body != "" {
			text += "\n" + truncateText(p.Body, 600)
		}
		f.texts = append(f.texts, text)
		f.urls = append(f.urls, "https://www.reddit.com"+p.Permalink)
	}
	return f, nil
}

// searchWeb 走 Google Programmable Search
func searchWeb(ctx context.Context, apiKey, cx, topic string) (researchFinding, error) {
	f := researchFinding{source: "web"}
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return f, err
	}

	resp, err := svc.Cse.List().Q(topic).Cx(cx).Num(5).Context(ctx).Do()
	if err != nil {
		return f, err
	}
	for _, item := range resp.Items {
		f.texts = append(f.texts, item.Title+"\n"+item.Snippet)
		f.urls = append(f.urls, item.Link)
	}
	return f, nil
}

func extractKeywords(topic string) []string {
	var out []string
	for _, w := range strings.Fields(topic) {
		w = strings.Trim(strings.ToLower(w), ".,!?\"'")
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

// truncateText 按字节上限截断，但退到 rune 边界，避免把多字节字符切成半截
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
