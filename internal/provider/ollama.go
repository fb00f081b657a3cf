package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures the locally hosted model client.
type OllamaConfig struct {
	Endpoint    string
	Model       string
	MaxPoolSize int
	PoolTimeout time.Duration
}

type ollamaResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type ollamaClient struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

func newOllamaClient(cfg OllamaConfig) *ollamaClient {
	return &ollamaClient{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		model:    cfg.Model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *ollamaClient) complete(ctx context.Context, req *Request) (*Response, error) {
	body := map[string]interface{}{
		"model":  c.model,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
			"top_p":       0.9,
		},
	}
	if req.MaxTokens > 0 {
		body["options"].(map[string]interface{})["num_predict"] = req.MaxTokens
	}
	if len(req.Images) > 0 {
		images := make([]string, len(req.Images))
		for i, img := range req.Images {
			images[i] = base64.StdEncoding.EncodeToString(img)
		}
		body["images"] = images
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if parsed.Error != "" {
		return nil, &PermanentError{Message: parsed.Error}
	}

	return &Response{
		Content: strings.TrimSpace(parsed.Response),
		Model:   parsed.Model,
	}, nil
}

// OllamaPool is a Client backed by a fixed pool of connections to a local
// Ollama server. The pool bounds concurrent generate calls so a burst of
// workers cannot overload the single local model.
type OllamaPool struct {
	clients     chan *ollamaClient
	poolTimeout time.Duration
}

var _ Client = (*OllamaPool)(nil)

func NewOllamaPool(cfg OllamaConfig) *OllamaPool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 4
	}
	if cfg.PoolTimeout <= 0 {
		cfg.PoolTimeout = 30 * time.Second
	}

	pool := &OllamaPool{
		clients:     make(chan *ollamaClient, cfg.MaxPoolSize),
		poolTimeout: cfg.PoolTimeout,
	}
	for i := 0; i < cfg.MaxPoolSize; i++ {
		pool.clients <- newOllamaClient(cfg)
	}
	return pool
}

func (p *OllamaPool) Complete(ctx context.Context, req *Request) (*Response, error) {
	client, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	defer p.put(client)
	return client.complete(ctx, req)
}

func (p *OllamaPool) get(ctx context.Context) (*ollamaClient, error) {
	select {
	case client := <-p.clients:
		return client, nil
	case <-time.After(p.poolTimeout):
		return nil, &TransientError{Message: "timeout waiting for available local model client"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *OllamaPool) put(client *ollamaClient) {
	select {
	case p.clients <- client:
	default:
	}
}

// Close drains the pool and closes idle connections.
func (p *OllamaPool) Close() error {
	close(p.clients)
	for client := range p.clients {
		client.httpClient.CloseIdleConnections()
	}
	return nil
}
