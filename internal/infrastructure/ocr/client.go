package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/resilience"
)

// Client talks to an OCR sidecar over JSON HTTP. The sidecar renders the
// requested page of the posted document and returns recognized text with its
// own confidence estimate.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	RequestTimeout     time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string) *Client {
	return NewWithOptions(baseURL, Options{})
}

func NewWithOptions(baseURL string, options Options) *Client {
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

func (c *Client) Recognize(ctx context.Context, doc []byte, page int) (string, float64, error) {
	request := map[string]any{
		"document": base64.StdEncoding.EncodeToString(doc),
		"page":     page,
	}

	var response struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/v1/recognize", request, &response, "recognize")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ocr.recognize", call, classifyOCRError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", 0, wrapTemporaryIfNeeded("ocr recognize", err)
	}

	if response.Confidence < 0 || response.Confidence > 1 {
		return "", 0, fmt.Errorf("ocr recognize: confidence %f out of range", response.Confidence)
	}
	return response.Text, response.Confidence, nil
}
