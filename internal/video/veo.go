package video

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/avvvet/mute-api/internal/upstream"
)

const maxReferenceImageBytes = 20 << 20

// VeoGenerator drives Google's Veo models through the genai SDK.
type VeoGenerator struct {
	client     *genai.Client
	httpClient *http.Client
}

// NewVeoGenerator returns a generator that reports itself unavailable when
// apiKey is empty.
func NewVeoGenerator(ctx context.Context, apiKey string) (*VeoGenerator, error) {
	g := &VeoGenerator{httpClient: &http.Client{Timeout: 30 * time.Second}}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *VeoGenerator) Available() bool {
	return g.client != nil
}

func (g *VeoGenerator) Generate(ctx context.Context, req GenerateRequest) (*Operation, error) {
	if g.client == nil {
		return nil, ErrNotConfigured
	}

	var image *genai.Image
	if req.ReferenceImage != "" {
		img, err := g.referenceImage(ctx, req.ReferenceImage)
		if err != nil {
			return nil, err
		}
		image = img
	}

	op, err := g.client.Models.GenerateVideos(ctx, req.Model, req.Prompt, image, nil)
	if err != nil {
		return nil, err
	}
	return fromVeoOperation(op), nil
}

func (g *VeoGenerator) Refresh(ctx context.Context, op *Operation) (*Operation, error) {
	if g.client == nil {
		return nil, ErrNotConfigured
	}
	handle, ok := op.handle.(*genai.GenerateVideosOperation)
	if !ok {
		return nil, fmt.Errorf("operation %s has no Veo handle", op.Name)
	}

	latest, err := g.client.Operations.GetVideosOperation(ctx, handle, nil)
	if err != nil {
		return nil, err
	}
	return fromVeoOperation(latest), nil
}

// referenceImage passes storage URIs through and fetches web images so they
// can be sent inline.
func (g *VeoGenerator) referenceImage(ctx context.Context, ref string) (*genai.Image, error) {
	if strings.HasPrefix(ref, "gs://") {
		return &genai.Image{GCSURI: ref}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid reference image URL: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference image: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read reference image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &upstream.HTTPError{Provider: "reference image", StatusCode: resp.StatusCode, Body: body}
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(body)
	}
	return &genai.Image{ImageBytes: body, MIMEType: mimeType}, nil
}

func fromVeoOperation(op *genai.GenerateVideosOperation) *Operation {
	out := &Operation{Name: op.Name, Done: op.Done, handle: op}
	if op.Error != nil {
		out.Error = fmt.Sprint(op.Error["message"])
		if _, ok := op.Error["message"]; !ok {
			out.Error = fmt.Sprint(op.Error)
		}
	}
	if op.Response != nil {
		for _, v := range op.Response.GeneratedVideos {
			if v != nil && v.Video != nil && v.Video.URI != "" {
				out.VideoURIs = append(out.VideoURIs, v.Video.URI)
			}
		}
	}
	return out
}
