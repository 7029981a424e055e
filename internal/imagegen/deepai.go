package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	DefaultDeepAIURL = "https://api.deepai.org/api/text2img"
	pictureSize      = 512
)

// DeepAI paints prompts with the DeepAI text2img API.
type DeepAI struct {
	key      string
	endpoint string
	httpc    *http.Client
}

// NewDeepAI returns a painter; endpoint defaults to DefaultDeepAIURL.
func NewDeepAI(key, endpoint string, httpc *http.Client) (*DeepAI, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrMissingKey
	}
	if endpoint == "" {
		endpoint = DefaultDeepAIURL
	}
	return &DeepAI{key: key, endpoint: endpoint, httpc: httpClientOrDefault(httpc)}, nil
}

type text2imgResponse struct {
	OutputURL string `json:"output_url"`
}

// Paint requests a 512x512 picture and downloads it.
func (d *DeepAI) Paint(ctx context.Context, prompt string) ([]byte, error) {
	if !isASCII(prompt) {
		return nil, ErrNonASCIIPrompt
	}
	form := url.Values{
		"text":                    {prompt},
		"image_generator_version": {"hd"},
		"width":                   {strconv.Itoa(pictureSize)},
		"height":                  {strconv.Itoa(pictureSize)},
		"grid_size":               {"1"},
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &UpstreamError{Provider: "deepai", Stage: "generate", Err: err}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("api-key", d.key)

	response, err := d.httpc.Do(request)
	if err != nil {
		return nil, &UpstreamError{Provider: "deepai", Stage: "generate", Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: "deepai", Stage: "generate", Err: fmt.Errorf("unexpected status %d", response.StatusCode)}
	}
	var decoded text2imgResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, &UpstreamError{Provider: "deepai", Stage: "generate", Err: err}
	}
	if decoded.OutputURL == "" {
		return nil, &UpstreamError{Provider: "deepai", Stage: "generate", Err: ErrEmptyResponse}
	}
	return d.download(ctx, decoded.OutputURL)
}

func (d *DeepAI) download(ctx context.Context, outputURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return nil, &UpstreamError{Provider: "deepai", Stage: "download", Err: err}
	}
	response, err := d.httpc.Do(request)
	if err != nil {
		return nil, &UpstreamError{Provider: "deepai", Stage: "download", Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: "deepai", Stage: "download", Err: fmt.Errorf("unexpected status %d", response.StatusCode)}
	}
	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &UpstreamError{Provider: "deepai", Stage: "download", Err: err}
	}
	if len(data) == 0 {
		return nil, &UpstreamError{Provider: "deepai", Stage: "download", Err: ErrEmptyResponse}
	}
	return data, nil
}
