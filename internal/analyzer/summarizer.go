package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const summarizerPrompt = `You describe restaurant websites for a team that rebuilds them.
Given the extracted facts and visible text of a homepage, reply with at most three plain sentences:
the kind of restaurant, its cuisine and location if stated, and anything notable about the current site.
Do not invent facts that are not present in the input.`

// OpenAIConfig holds the LLM summary settings
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAISummarizer summarizes pages with a chat completion
type OpenAISummarizer struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAISummarizer(config OpenAIConfig) (*OpenAISummarizer, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAISummarizer{
		client:  openai.NewClient(opts...),
		model:   config.Model,
		timeout: timeout,
	}, nil
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, page *Page) (string, error) {
	resp, err := s.client.Chat.Completions.New(
		ctx,
		openai.ChatCompletionNewParams{
			Model: openai.ChatModel(s.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				{
					OfSystem: &openai.ChatCompletionSystemMessageParam{
						Content: openai.ChatCompletionSystemMessageParamContentUnion{
							OfString: openai.String(summarizerPrompt),
						},
					},
				},
				{
					OfUser: &openai.ChatCompletionUserMessageParam{
						Content: openai.ChatCompletionUserMessageParamContentUnion{
							OfString: openai.String(summaryInput(page)),
						},
					},
				},
			},
		},
		option.WithRequestTimeout(s.timeout),
		option.WithMaxRetries(1),
	)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func summaryInput(page *Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", page.URL)
	fmt.Fprintf(&b, "Title: %s\n", page.Title)
	fmt.Fprintf(&b, "Site name: %s\n", page.SiteName)
	fmt.Fprintf(&b, "Description: %s\n", page.Description)
	fmt.Fprintf(&b, "Language: %s\n", page.Language)
	fmt.Fprintf(&b, "Phones: %s\n", strings.Join(page.Phones, ", "))
	fmt.Fprintf(&b, "Menu links: %s\n", strings.Join(page.MenuLinks, ", "))
	fmt.Fprintf(&b, "Social links: %s\n", strings.Join(page.SocialLinks, ", "))
	fmt.Fprintf(&b, "Images: %d\n", page.ImageCount)
	fmt.Fprintf(&b, "---\n%s\n", page.Text)
	return b.String()
}
