package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/amrrdev/quizscan/internal/middleware"
	"github.com/amrrdev/quizscan/internal/service"
	"github.com/gin-gonic/gin"
)

type JobHandler struct {
	jobService *service.Jobs
}

func NewJobHandler(jobService *service.Jobs) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

type SubmitRequest struct {
	JobID     string `json:"job_id"`
	ObjectKey string `json:"object_key" binding:"required"`
}

// Submit accepts a multipart "file" upload or a JSON body naming an object
// uploaded through a presigned URL.
func (h *JobHandler) Submit(c *gin.Context) {
	userID := middleware.GetUserID(c)
	in := service.SubmitInput{}

	if c.ContentType() == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		defer f.Close()

		in.JobID = c.PostForm("job_id")
		in.Filename = fh.Filename
		in.Size = fh.Size
		in.Body = io.LimitReader(f, service.MaxUploadSize)
	} else {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in.JobID = req.JobID
		in.ObjectKey = req.ObjectKey
	}

	resp, err := h.jobService.Submit(c.Request.Context(), userID, in)
	if err != nil {
		writeError(c, err, "Failed to submit job")
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (h *JobHandler) GetUploadUrl(c *gin.Context) {
	resp, err := h.jobService.UploadURL(c.Request.Context(), middleware.GetUserID(c), c.Param("filename"))
	if err != nil {
		writeError(c, err, "Failed to generate upload URL")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Status(c *gin.Context) {
	withPages := c.Query("pages") == "true"
	resp, err := h.jobService.Status(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), withPages)
	if err != nil {
		writeError(c, err, "Failed to load job")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Questions(c *gin.Context) {
	resp, err := h.jobService.Questions(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to load questions")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	message := fallback

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "Job not found"
	case errors.Is(err, service.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrNotReady), errors.Is(err, service.ErrJobFailed):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{"error": message})
}
