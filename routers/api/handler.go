package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyboard-server/models"
	"storyboard-server/poller"
	"storyboard-server/service"
)

// defaultMaxUpload 导入文件和上传图片的默认大小上限
const defaultMaxUpload = 20 << 20

type Handler struct {
	svc *service.Service
	log *zap.Logger

	// StreamInterval websocket 推送检查间隔
	StreamInterval time.Duration
	// MaxUpload 请求体上限，超出返回 413
	MaxUpload int64
}

func NewHandler(svc *service.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log.Named("api"), StreamInterval: 500 * time.Millisecond, MaxUpload: defaultMaxUpload}
}

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	var (
		provErr *models.ProviderError
		jobErr  *poller.JobFailedError
	)
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, poller.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrGeneration), errors.As(err, &provErr),
		errors.As(err, &jobErr), errors.Is(err, poller.ErrResultMissing):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// readPayload 支持 multipart 的 file 字段或原始请求体
func (h *Handler) readPayload(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUpload)
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		return data, fh.Header.Get("Content-Type"), err
	}
	data, err := io.ReadAll(c.Request.Body)
	return data, c.ContentType(), err
}

// payloadError 读请求体失败：超出上限 413，其余 400
func payloadError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func attachment(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// Options 可选模型与画面比例
func (h *Handler) Options(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":       models.VideoModels,
		"aspectRatios": models.AspectRatios,
		"defaults":     models.DefaultVideoConfig(),
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
