package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/absconder01/facefilter/config"
	"github.com/absconder01/facefilter/model"
	"github.com/absconder01/facefilter/service"
	"github.com/absconder01/facefilter/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderFacesDetected = "X-Faces-Detected"
	HeaderPassThrough   = "X-Pass-Through"
	HeaderCache         = "X-Cache"
)

type RetouchHandler struct {
	cfg            *config.Config
	redisService   *service.RedisService // 为 nil 时不使用缓存
	retouchService *service.RetouchService
}

func NewRetouchHandler(cfg *config.Config, redis *service.RedisService, retouch *service.RetouchService) *RetouchHandler {
	return &RetouchHandler{
		cfg:            cfg,
		redisService:   redis,
		retouchService: retouch,
	}
}

// Retouch 人像磨皮，profile 表单字段可选 face/global
func (h *RetouchHandler) Retouch(c *gin.Context) {
	h.process(c, c.DefaultPostForm("profile", model.ProfileFace))
}

// Smooth 全图磨皮
func (h *RetouchHandler) Smooth(c *gin.Context) {
	h.process(c, model.ProfileGlobal)
}

func (h *RetouchHandler) process(c *gin.Context, profile string) {
	if _, ok := h.retouchService.Profile(profile); !ok {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的处理模式",
			Error:   fmt.Sprintf("unknown profile %q", profile),
		})
		return
	}

	data, ok := h.readImage(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	md5 := utils.BytesMD5(data)
	cacheKey := service.CacheKey(md5, profile)

	utils.Logger.Info("image received",
		zap.String("md5", md5),
		zap.String("profile", profile),
		zap.Int("size", len(data)))

	if h.redisService != nil {
		cached, err := h.redisService.GetRetouched(ctx, cacheKey)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			utils.Logger.Info("cache hit", zap.String("cache_key", cacheKey))
			c.Header(HeaderCache, "HIT")
			c.Data(http.StatusOK, "image/jpeg", cached)
			return
		}
	}

	result, err := h.retouchService.Process(ctx, data, profile)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.redisService != nil {
		if err := h.redisService.SetRetouched(ctx, cacheKey, result.JPEG); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.Header(HeaderFacesDetected, strconv.Itoa(result.Faces))
	c.Header(HeaderPassThrough, strconv.FormatBool(result.PassThrough))
	c.Header(HeaderCache, "MISS")
	c.Data(http.StatusOK, "image/jpeg", result.JPEG)
}

// Analyze 返回人脸检测与掩码覆盖率，不生成图片
func (h *RetouchHandler) Analyze(c *gin.Context) {
	data, ok := h.readImage(c)
	if !ok {
		return
	}

	result, err := h.retouchService.Analyze(c.Request.Context(), data)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.AnalyzeResponse{
		Success: true,
		Message: "分析成功",
		Data:    result,
	})
}

// Ready 就绪检查，模型未加载时返回 500
func (h *RetouchHandler) Ready(c *gin.Context) {
	if err := h.retouchService.Ready(); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "service not ready",
			Error:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// readImage 读取 multipart 中的 image 字段，失败时已写入响应
func (h *RetouchHandler) readImage(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Warn("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return nil, false
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return nil, false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "读取上传文件失败",
			Error:   err.Error(),
		})
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "读取上传文件失败",
			Error:   err.Error(),
		})
		return nil, false
	}
	return data, true
}

// writeError 将服务层错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "图片处理失败"

	switch {
	case errors.Is(err, service.ErrInvalidImage):
		status, message = http.StatusBadRequest, "无法解码图片"
	case errors.Is(err, service.ErrUnknownProfile):
		status, message = http.StatusBadRequest, "不支持的处理模式"
	case errors.Is(err, service.ErrModelUnavailable):
		message = "service not ready"
	case errors.Is(err, service.ErrQueueFull):
		status, message = http.StatusServiceUnavailable, "服务繁忙，请稍后重试"
	}

	if status >= http.StatusInternalServerError {
		utils.Logger.Error("failed to process image", zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}
