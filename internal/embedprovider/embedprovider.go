// Package embedprovider types the polymorphic embedding provider contract
// (embed_batch plus the identity fields model_id/model_version/dimensions)
// and supplies a local, dependency-free implementation plus thin HTTP
// clients for the remote providers (voyage, openai). Concrete providers are selected
// by config string and must be gated by the external-provider permission
// flags before being constructed or called (see ExternalGate).
package embedprovider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Provider embeds a batch of texts into dense vectors and carries the
// identity fields (model_id, model_version, dimensions) that travel with
// every semantic_vectors row.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	ModelVersion() string
	Dimensions() int
}

// ExternalGate reports whether a remote provider is permitted to see code
// payloads: a hit requires both external_provider_enabled and
// allow_code_payload_to_external to be true.
type ExternalGate struct {
	ExternalProviderEnabled    bool
	AllowCodePayloadToExternal bool
}

func (g ExternalGate) Allowed() bool {
	return g.ExternalProviderEnabled && g.AllowCodePayloadToExternal
}

// LocalProvider is a deterministic, dependency-free stand-in for a real
// embedding model: it hashes n-gram shingles of the text into a fixed-width
// vector, giving lexically similar strings nearby vectors without requiring
// a network call or a vendored model. Production deployments inject a
// remote provider (Voyage, OpenAI) gated by external_provider_enabled.
type LocalProvider struct {
	dims int
}

func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = 384
	}
	return &LocalProvider{dims: dims}
}

func (p *LocalProvider) ModelID() string      { return "local-minilm" }
func (p *LocalProvider) ModelVersion() string { return "1" }
func (p *LocalProvider) Dimensions() int      { return p.dims }

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embedOne(t)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dims)
	shingles := shingle(text, 3)
	if len(shingles) == 0 {
		shingles = []string{text}
	}
	for _, sh := range shingles {
		h := sha256.Sum256([]byte(sh))
		idx := int(binary.LittleEndian.Uint32(h[0:4])) % p.dims
		if idx < 0 {
			idx += p.dims
		}
		sign := float32(1)
		if h[4]&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	normalize(vec)
	return vec
}

func shingle(s string, n int) []string {
	if len(s) < n {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	out := make([]string, 0, len(s)-n+1)
	for i := 0; i+n <= len(s); i++ {
		out = append(out, s[i:i+n])
	}
	return out
}

func normalize(v []float32) {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

// HTTPProvider is a thin REST client shared by the Voyage and OpenAI
// embedding providers: both expose a POST /embeddings endpoint accepting a
// model name and a batch of inputs, returning parallel float vectors. Only
// reachable when the caller has already checked ExternalGate.Allowed() —
// this type itself does not enforce the gate, the retrieval pipeline does,
// once, before constructing or calling it.
type HTTPProvider struct {
	Endpoint     string
	APIKey       string
	Model        string
	ModelVer     string
	Dims         int
	ProviderName string
	Client       *http.Client
}

func NewHTTPProvider(providerName, endpoint, apiKey, model, modelVersion string, dims int) *HTTPProvider {
	return &HTTPProvider{
		Endpoint:     endpoint,
		APIKey:       apiKey,
		Model:        model,
		ModelVer:     modelVersion,
		Dims:         dims,
		ProviderName: providerName,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) ModelID() string      { return p.Model }
func (p *HTTPProvider) ModelVersion() string { return p.ModelVer }
func (p *HTTPProvider) Dimensions() int      { return p.Dims }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s embed_batch: %w", p.ProviderName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s embed_batch: status %d", p.ProviderName, resp.StatusCode)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s embed_batch: decode: %w", p.ProviderName, err)
	}
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
