package specialty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrEmbeddingFailed indicates the embedding service rejected or failed a
// request.
var ErrEmbeddingFailed = errors.New("embedding generation failed")

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

// TEIEmbedder generates embeddings through a text-embeddings-inference
// service over HTTP. It implements Embedder.
type TEIEmbedder struct {
	baseURL string
	client  *http.Client
}

// NewTEIEmbedder creates an embedder backed by the TEI service at baseURL.
func NewTEIEmbedder(baseURL string) (*TEIEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	return &TEIEmbedder{
		baseURL: baseURL,
		client:  &http.Client{},
	}, nil
}

// EmbedQuery generates an embedding for a single text.
func (e *TEIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmbeddingFailed)
	}

	body, err := json.Marshal(teiRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}
