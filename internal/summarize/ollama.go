package summarize

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama summarizes through a local Ollama model.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates a summarizer for model, honoring $OLLAMA_HOST.
func NewOllama(model string) (*Ollama, error) {
	if model == "" {
		model = "llama3.2"
	}
	baseURL := "http://localhost:11434"
	if env := os.Getenv("OLLAMA_HOST"); env != "" {
		baseURL = env
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse OLLAMA_HOST: %w", err)
	}
	return &Ollama{client: api.NewClient(uri, http.DefaultClient), model: model}, nil
}

// Summarize implements Summarizer. Level 1 asks for a single sentence,
// higher levels allow proportionally more.
func (o *Ollama) Summarize(ctx context.Context, content string, level int) (string, bool, error) {
	if level < 1 {
		level = 1
	}
	prompt := fmt.Sprintf(
		"Summarize the following note in at most %d sentence(s). Reply with the summary only.\n\n%s",
		level, content)

	stream := false
	var sb strings.Builder
	err := o.client.Generate(ctx, &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("ollama generate: %w", err)
	}
	out := strings.TrimSpace(sb.String())
	return out, out != "", nil
}
