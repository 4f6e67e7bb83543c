package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
	_, err = NewClient(Config{APIKey: "k", BaseURL: "ftp://x"}, nil)
	assert.Error(t, err)
}

func TestGenerateScenes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var req generateContentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)
		assert.Equal(t, "ARRAY", req.GenerationConfig.ResponseSchema.Properties["scenes"].Type)
		assert.Equal(t, "break it down", req.Contents[0].Parts[0].Text)

		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{\"scenes\":[\"Scene A\",\"Scene B\"]}"}]}}]}`)
	})

	scenes, err := c.GenerateScenes(context.Background(), "break it down")
	require.NoError(t, err)
	assert.Equal(t, []string{"Scene A", "Scene B"}, scenes)
}

func TestGenerateScenes_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota exceeded"}}`)
	})

	_, err := c.GenerateScenes(context.Background(), "x")
	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/imagen-4.0-generate-001:predict", r.URL.Path)
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a cat", req.Instances[0]["prompt"])
		assert.Equal(t, "1:1", req.Parameters["aspectRatio"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]string{{"bytesBase64Encoded": base64.StdEncoding.EncodeToString(png), "mimeType": "image/png"}},
		})
	})

	img, err := c.GenerateImage(context.Background(), "a cat", "")
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
}

func TestVideoOperationLifecycle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/models/veo-2.0-generate-001:predictLongRunning":
			var req predictRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "9:16", req.Parameters["aspectRatio"])
			_, _ = io.WriteString(w, `{"name":"models/veo-2.0-generate-001/operations/op1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/models/veo-2.0-generate-001/operations/op1":
			_, _ = io.WriteString(w, `{"name":"models/veo-2.0-generate-001/operations/op1","done":true,
				"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://files/v1:download?alt=media"}}]}}}`)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	op, err := c.StartVideo(context.Background(), "veo-2.0-generate-001", "prompt", "9:16")
	require.NoError(t, err)
	assert.False(t, op.Done)

	op, err = c.GetOperation(context.Background(), op)
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Equal(t, "https://files/v1:download?alt=media", op.MediaURI)
}

func TestStartVideo_SkipsUnsupportedAspectParameter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, ok := req.Parameters["aspectRatio"]
		assert.False(t, ok)
		_, _ = io.WriteString(w, `{"name":"operations/x"}`)
	})

	_, err := c.StartVideo(context.Background(), "veo-2.0-generate-001", "prompt", "4:3")
	require.NoError(t, err)
}

func TestGetOperation_CarriesError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"operations/x","done":true,"error":{"code":3,"message":"blocked"}}`)
	})

	op, err := c.GetOperation(context.Background(), models.Operation{Name: "operations/x"})
	require.NoError(t, err)
	require.NotNil(t, op.Error)
	assert.Equal(t, "blocked", op.Error.Message)
}

func TestDownloadVideo_AppendsKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte("mp4-bytes"))
	})

	data, err := c.DownloadVideo(context.Background(), c.baseURL+"/files/abc:download?alt=media")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), data)
}
