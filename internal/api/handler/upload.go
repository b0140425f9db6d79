package handler

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/pkg/response"
	"github.com/kay120/Code-reader/internal/service"
)

type UploadHandler struct {
	uploadService *service.UploadService
	cfg           *config.Config
}

func NewUploadHandler(uploadService *service.UploadService, cfg *config.Config) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		cfg:           cfg,
	}
}

// Upload 接收 ZIP 仓库，解压并建分析任务
// POST /api/v1/upload
func (h *UploadHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.ParamError(c, "请上传文件")
		return
	}
	defer file.Close()

	if h.cfg.Upload.MaxSize > 0 && header.Size > h.cfg.Upload.MaxSize {
		response.ParamError(c, "文件过大")
		return
	}

	if strings.ToLower(filepath.Ext(header.Filename)) != ".zip" {
		response.ParamError(c, "仅支持 ZIP 格式")
		return
	}

	tempFile, err := os.CreateTemp(h.cfg.Upload.TempDir, "upload-*.zip")
	if err != nil {
		response.ServerError(c, "文件保存失败")
		return
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, file); err != nil {
		response.ServerError(c, "文件保存失败")
		return
	}

	result, err := h.uploadService.HandleZip(c.Request.Context(), tempFile.Name(), header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidZip):
			response.ParamError(c, "ZIP 文件损坏或无法解压")
		case errors.Is(err, service.ErrEmptyArchive):
			response.ParamError(c, "压缩包里没有文件")
		default:
			response.ServerError(c, "上传处理失败")
		}
		return
	}

	response.Success(c, result)
}
