package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyboard-server/models"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultTextModel  = "gemini-2.5-flash"
	defaultImageModel = "imagen-4.0-generate-001"

	maxVideoBytes = 512 << 20
)

type Config struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	Timeout    time.Duration
}

// Client 调用 Gemini / Imagen / Veo 的 REST 接口
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	textModel  string
	imageModel string
	log        *zap.Logger
}

// Image 生成的图片
type Image struct {
	Data     []byte
	MIMEType string
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("gemini: invalid base URL %q", baseURL)
	}
	textModel := cfg.TextModel
	if textModel == "" {
		textModel = defaultTextModel
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		textModel:  textModel,
		imageModel: imageModel,
		log:        log.Named("gemini"),
	}, nil
}

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*schema `json:"properties,omitempty"`
	Items       *schema            `json:"items,omitempty"`
}

type generateContentRequest struct {
	Contents         []content `json:"contents"`
	GenerationConfig struct {
		ResponseMIMEType string  `json:"responseMimeType"`
		ResponseSchema   *schema `json:"responseSchema"`
	} `json:"generationConfig"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// GenerateScenes 文本生成，要求返回 {"scenes": [string]} 结构
func (c *Client) GenerateScenes(ctx context.Context, instruction string) ([]string, error) {
	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: instruction}}}},
	}
	req.GenerationConfig.ResponseMIMEType = "application/json"
	req.GenerationConfig.ResponseSchema = &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"scenes": {
				Type:        "ARRAY",
				Description: "An array of strings, where each string is a descriptive prompt for a video scene.",
				Items:       &schema{Type: "STRING"},
			},
		},
	}

	var resp generateContentResponse
	if err := c.post(ctx, "generate scenes", c.modelURL(c.textModel, "generateContent"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &models.ProviderError{Op: "generate scenes", Err: errors.New("response contains no candidates")}
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	var decoded struct {
		Scenes []string `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(text.String()), &decoded); err != nil {
		return nil, &models.ProviderError{Op: "generate scenes", Err: fmt.Errorf("decode scenes: %w", err)}
	}
	return decoded.Scenes, nil
}

type predictRequest struct {
	Instances  []map[string]any `json:"instances"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

type imagePredictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MIMEType           string `json:"mimeType"`
	} `json:"predictions"`
}

// GenerateImage 文生图，返回一张图片
func (c *Client) GenerateImage(ctx context.Context, prompt, aspectRatio string) (Image, error) {
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}
	req := predictRequest{
		Instances: []map[string]any{{"prompt": prompt}},
		Parameters: map[string]any{
			"sampleCount":    1,
			"aspectRatio":    aspectRatio,
			"outputMimeType": "image/png",
		},
	}
	var resp imagePredictResponse
	if err := c.post(ctx, "generate image", c.modelURL(c.imageModel, "predict"), req, &resp); err != nil {
		return Image{}, err
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return Image{}, &models.ProviderError{Op: "generate image", Err: errors.New("response contains no image")}
	}
	data, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return Image{}, &models.ProviderError{Op: "generate image", Err: fmt.Errorf("decode image: %w", err)}
	}
	mime := resp.Predictions[0].MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return Image{Data: data, MIMEType: mime}, nil
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (r operationResponse) toOperation() models.Operation {
	op := models.Operation{Name: r.Name, Done: r.Done}
	if r.Error != nil {
		op.Error = &models.OperationError{Code: r.Error.Code, Message: r.Error.Message}
	}
	if r.Response != nil && len(r.Response.GenerateVideoResponse.GeneratedSamples) > 0 {
		op.MediaURI = r.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
	}
	return op
}

// Veo 接口只接受横竖两种比例，其他比例仅体现在提示词里
var videoAspectRatios = map[string]bool{"16:9": true, "9:16": true}

// StartVideo 提交视频生成长任务
func (c *Client) StartVideo(ctx context.Context, model, prompt, aspectRatio string) (models.Operation, error) {
	params := map[string]any{"sampleCount": 1}
	if videoAspectRatios[aspectRatio] {
		params["aspectRatio"] = aspectRatio
	}
	req := predictRequest{
		Instances:  []map[string]any{{"prompt": prompt}},
		Parameters: params,
	}
	var resp operationResponse
	if err := c.post(ctx, "start video", c.modelURL(model, "predictLongRunning"), req, &resp); err != nil {
		return models.Operation{}, err
	}
	if resp.Name == "" {
		return models.Operation{}, &models.ProviderError{Op: "start video", Err: errors.New("response contains no operation name")}
	}
	c.log.Info("Video operation submitted", zap.String("operation", resp.Name), zap.String("model", model))
	return resp.toOperation(), nil
}

// GetOperation 重新查询任务句柄
func (c *Client) GetOperation(ctx context.Context, op models.Operation) (models.Operation, error) {
	if op.Name == "" {
		return models.Operation{}, errors.New("gemini: operation name is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+strings.TrimLeft(op.Name, "/"), nil)
	if err != nil {
		return models.Operation{}, fmt.Errorf("gemini: create request: %w", err)
	}
	var resp operationResponse
	if err := c.do(req, "get operation", &resp); err != nil {
		return models.Operation{}, err
	}
	return resp.toOperation(), nil
}

// DownloadVideo 视频地址需要带上 key 才能下载
func (c *Client) DownloadVideo(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("gemini: parse video uri: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.ProviderError{Op: "download video", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &models.ProviderError{Op: "download video", StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBytes+1))
	if err != nil {
		return nil, &models.ProviderError{Op: "download video", Err: err}
	}
	if len(data) > maxVideoBytes {
		return nil, &models.ProviderError{Op: "download video", Err: fmt.Errorf("video exceeds %d bytes", maxVideoBytes)}
	}
	return data, nil
}

func (c *Client) modelURL(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", c.baseURL, url.PathEscape(model), method)
}

func (c *Client) post(ctx context.Context, op, endpoint string, payload, out any) error {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return fmt.Errorf("gemini: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("Provider call finished",
		zap.String("op", op),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &models.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(apiErrorMessage(snippet, resp.Status))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.ProviderError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// apiErrorMessage 提取 {"error": {"message": ...}} 中的信息
func apiErrorMessage(body []byte, fallback string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}
