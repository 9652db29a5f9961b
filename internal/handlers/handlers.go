package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Brownie44l1/leaflens-api/internal/advisor"
	"github.com/Brownie44l1/leaflens-api/internal/cache"
	"github.com/Brownie44l1/leaflens-api/internal/config"
	"github.com/Brownie44l1/leaflens-api/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BuildInfo is stamped at link time and served on /version.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

type Handler struct {
	adapter *model.Adapter
	store   cache.Store
	advisor advisor.Advisor
	upload  config.UploadConfig
	build   BuildInfo
	log     *zap.Logger
}

// NewHandler wires the HTTP layer. store and adv may be nil.
func NewHandler(adapter *model.Adapter, store cache.Store, adv advisor.Advisor, upload config.UploadConfig, build BuildInfo, log *zap.Logger) *Handler {
	if store == nil {
		store = cache.Nop{}
	}
	return &Handler{
		adapter: adapter,
		store:   store,
		advisor: adv,
		upload:  upload,
		build:   build,
		log:     log,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/version", h.Version)

	api := r.Group("/api/v1")
	{
		api.POST("/analyze", h.Analyze)
		api.POST("/predict", h.Predict)
		api.GET("/analysis/:md5", h.GetAnalysis)
	}
}

func (h *Handler) Health(c *gin.Context) {
	state := h.adapter.State()
	if state != model.StateReady {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "unavailable",
			"model_state": state.String(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"model_state": state.String(),
	})
}

func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.build)
}

// Predict runs a raw, already preprocessed tensor.
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "Invalid JSON",
			Error:   err.Error(),
		})
		return
	}

	scores, err := h.adapter.PredictTensor(c.Request.Context(), req.Image)
	if err != nil {
		h.fail(c, "Prediction failed", err)
		return
	}

	analysis, err := h.analyze(scores)
	if err != nil {
		h.fail(c, "Prediction failed", err)
		return
	}

	c.JSON(http.StatusOK, model.AnalysisResponse{
		Success: true,
		Message: "ok",
		Data:    analysis,
	})
}

// Analyze classifies an uploaded leaf photo and attaches advice.
func (h *Handler) Analyze(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		file, err = c.FormFile("image")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "No image file provided. Use 'file' as the form field name",
			Error:   err.Error(),
		})
		return
	}

	if file.Size > h.upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("File exceeds the %d MB limit", h.upload.MaxSize/(1024*1024)),
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, "Failed to read upload", err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.upload.MaxSize+1))
	if err != nil {
		h.fail(c, "Failed to read upload", err)
		return
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "Unsupported file type. Supported: JPEG, PNG, GIF",
			Error:   contentType,
		})
		return
	}

	ctx := c.Request.Context()
	lang := advisor.NormalizeLang(c.PostForm("lang"))
	md5 := cache.BytesMD5(data)

	h.log.Info("image received",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size),
		zap.String("lang", lang))

	cached, err := h.store.GetAnalysis(ctx, md5, lang)
	if err != nil {
		h.log.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		h.log.Info("cache hit", zap.String("md5", md5), zap.String("lang", lang))
		c.JSON(http.StatusOK, model.AnalysisResponse{
			Success: true,
			Message: "ok (cached)",
			Data:    cached,
		})
		return
	}

	scores, err := h.adapter.Predict(ctx, bytes.NewReader(data))
	if err != nil {
		h.fail(c, "Prediction failed", err)
		return
	}

	analysis, err := h.analyze(scores)
	if err != nil {
		h.fail(c, "Prediction failed", err)
		return
	}
	analysis.MD5 = md5
	analysis.Lang = lang
	analysis.Advice = h.advise(ctx, analysis, lang)

	// an analysis missing its advice is not cached so the next upload retries the advisor
	if h.advisor != nil && analysis.Advice == nil {
		h.log.Info("analysis not cached, advice missing", zap.String("md5", md5))
	} else if err := h.store.SetAnalysis(ctx, md5, lang, analysis); err != nil {
		h.log.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, model.AnalysisResponse{
		Success: true,
		Message: "ok",
		Data:    analysis,
	})
}

func (h *Handler) GetAnalysis(c *gin.Context) {
	md5 := strings.ToLower(c.Param("md5"))
	lang := advisor.NormalizeLang(c.Query("lang"))

	result, err := h.store.GetAnalysis(c.Request.Context(), md5, lang)
	if err != nil {
		h.fail(c, "Lookup failed", err)
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "No analysis found for this image",
		})
		return
	}

	c.JSON(http.StatusOK, model.AnalysisResponse{
		Success: true,
		Message: "ok",
		Data:    result,
	})
}

func (h *Handler) analyze(scores []float32) (*model.Analysis, error) {
	meta, err := h.adapter.Metadata()
	if err != nil {
		return nil, err
	}
	return model.Analyze(scores, meta.Classes)
}

// advise never fails the request; a missing advisor or an error yields nil.
func (h *Handler) advise(ctx context.Context, analysis *model.Analysis, lang string) *model.Advice {
	if h.advisor == nil {
		return nil
	}
	advice, err := h.advisor.Advise(ctx, analysis.Plant, analysis.Predicted, lang)
	if err != nil {
		h.log.Warn("advisor failed",
			zap.String("disease", analysis.Predicted),
			zap.Error(err))
		return nil
	}
	return advice
}

func (h *Handler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
	} else {
		h.log.Warn(message, zap.Error(err))
	}
	c.JSON(status, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrDecode), errors.Is(err, model.ErrShape):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) isAllowedType(contentType string) bool {
	contentType, _, _ = strings.Cut(contentType, ";")
	for _, allowed := range h.upload.AllowedTypes {
		if strings.EqualFold(strings.TrimSpace(contentType), allowed) {
			return true
		}
	}
	return false
}
