package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wdonsong/huntly/internal/async"
	"github.com/wdonsong/huntly/internal/config"
	huntlyerrors "github.com/wdonsong/huntly/internal/errors"
	"github.com/wdonsong/huntly/internal/httpclient"
	"github.com/wdonsong/huntly/internal/logging"
)

const maxErrorBodyBytes = 64 * 1024

// ProviderBackend streams directly against an OpenAI-compatible
// chat-completions endpoint configured as a provider.
type ProviderBackend struct {
	cfg    *config.Manager
	logger logging.Logger
}

// NewProviderBackend builds the direct-provider backend.
func NewProviderBackend(cfg *config.Manager, logger logging.Logger) *ProviderBackend {
	return &ProviderBackend{cfg: cfg, logger: logging.OrNop(logger)}
}

// Kind identifies the direct-provider path.
func (b *ProviderBackend) Kind() Kind {
	return KindProvider
}

type providerHandle struct {
	gate   *gate
	cancel context.CancelFunc
	once   sync.Once
}

func (h *providerHandle) Cancel() {
	h.once.Do(func() {
		h.gate.Cancel()
		h.cancel()
	})
}

// Start validates the provider configuration synchronously, then launches
// the streaming call in the background. The returned handle exists before
// any network I/O, so a cancel arriving immediately after Start still wins.
func (b *ProviderBackend) Start(ctx context.Context, req Request, cb Callbacks) (Handle, error) {
	provider, model, err := b.resolve(req)
	if err != nil {
		return nil, err
	}

	g := newGate(cb)
	streamCtx, cancel := context.WithCancel(ctx)
	handle := &providerHandle{gate: g, cancel: cancel}

	prompt := BuildPrompt(req.Title, req.Content)
	instruction := SubstituteLanguage(req.Instruction, b.cfg.TargetLanguageName())

	async.Go(b.logger, "stream-provider-"+req.TaskID, func() {
		defer cancel()
		if err := b.run(streamCtx, provider, model, instruction, prompt, req.TaskID, g); err != nil {
			g.Fail(err)
		}
	})

	return handle, nil
}

// resolve picks the provider and model for the request. Absent or disabled
// configuration is an error, never a silent no-op.
func (b *ProviderBackend) resolve(req Request) (config.Provider, string, error) {
	var provider config.Provider
	if name := strings.TrimSpace(req.Provider); name != "" {
		p, ok := b.cfg.Provider(name)
		if !ok {
			return config.Provider{}, "", huntlyerrors.NewConfigurationError(name, "provider is not configured")
		}
		provider = p
	} else {
		enabled := b.cfg.EnabledProviders()
		if len(enabled) == 0 {
			return config.Provider{}, "", huntlyerrors.NewConfigurationError("provider", "no provider is enabled")
		}
		provider = enabled[0]
		for _, p := range enabled {
			if p.Default {
				provider = p
				break
			}
		}
	}
	if !provider.Enabled {
		return config.Provider{}, "", huntlyerrors.NewConfigurationError(provider.Name, "provider is disabled")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" && len(provider.Models) > 0 {
		model = provider.Models[0]
	}
	if model == "" {
		return config.Provider{}, "", huntlyerrors.NewConfigurationError(provider.Name, "no model configured")
	}
	return provider, model, nil
}

func (b *ProviderBackend) run(ctx context.Context, provider config.Provider, model, instruction, prompt, taskID string, g *gate) error {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": instruction},
			{"role": "user", "content": prompt},
		},
		"stream": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(provider.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
	for k, v := range provider.Headers {
		httpReq.Header.Set(k, v)
	}

	b.logger.Debug("[task:%s] POST %s model=%s", taskID, endpoint, model)

	client := httpclient.New(time.Duration(provider.Timeout)*time.Second, b.logger)
	resp, err := client.Do(httpReq)
	if err != nil {
		return huntlyerrors.NewTransportError("provider stream", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := httpclient.ReadBody(resp.Body, maxErrorBodyBytes)
		if readErr != nil {
			return huntlyerrors.NewTransportError("provider stream", resp.StatusCode, readErr)
		}
		return huntlyerrors.NewTransportError("provider stream", resp.StatusCode,
			fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}

	type streamChunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		// A chunk observed after cancellation is dropped, even though the
		// provider already produced it.
		if g.Cancelled() {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			b.logger.Debug("[task:%s] skip undecodable stream chunk: %v", taskID, err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		g.Chunk(chunk.Choices[0].Delta.Content)
	}

	if err := scanner.Err(); err != nil {
		if g.Cancelled() {
			return nil
		}
		return huntlyerrors.NewTransportError("provider stream", 0, err)
	}

	g.End()
	return nil
}

// BuildPrompt prefixes the captured content with its title when present.
func BuildPrompt(title, content string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return content
	}
	return fmt.Sprintf("# %s\n\n%s", title, content)
}

// SubstituteLanguage replaces the "{lang}" placeholder in an instruction
// with the native name of the target language.
func SubstituteLanguage(instruction, languageName string) string {
	return strings.ReplaceAll(instruction, "{lang}", languageName)
}
