package handler

import (
	"errors"
	"log"
	"strconv"

	"github.com/dubstudio/api/internal/model"
	"github.com/dubstudio/api/internal/service"
	"github.com/dubstudio/api/pkg/response"
	"github.com/gofiber/fiber/v2"
)

type DubbingHandler struct {
	service *service.DubbingService
}

func NewDubbingHandler(svc *service.DubbingService) *DubbingHandler {
	return &DubbingHandler{service: svc}
}

// Upload handles POST /api/upload
// @Summary      Upload a video for dubbing
// @Tags         Dubbing
// @Accept       multipart/form-data
// @Produce      json
// @Param        video formData file true "Video file (mp4, mov, avi)"
// @Success      200 {object} model.UploadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /api/upload [post]
func (h *DubbingHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("video")
	if err != nil {
		return response.ValidationError(c, "No video file provided", nil)
	}
	if file.Filename == "" {
		return response.ValidationError(c, "No selected file", nil)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	jobID, err := h.service.SubmitJob(c.Context(), f, file.Size, file.Filename)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return response.ValidationError(c, err.Error(), fiber.Map{"filename": file.Filename, "size": file.Size})
	case errors.Is(err, service.ErrQueueFull):
		return response.QueueFull(c, "Too many jobs in progress, please retry later")
	case err != nil:
		log.Printf("[Handler] Upload of %s failed: %v", file.Filename, err)
		return response.ServiceError(c, "Failed to accept upload")
	}

	return response.OK(c, model.UploadResponse{
		Message:  "File uploaded successfully",
		JobID:    jobID,
		Filename: file.Filename,
	})
}

// Status handles GET /api/status/:jobId
// @Summary      Get dubbing job status
// @Tags         Dubbing
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.StatusResponse
// @Router       /api/status/{jobId} [get]
func (h *DubbingHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	st, err := h.service.GetJobStatus(c.Context(), jobID)
	if err != nil {
		log.Printf("[Handler] Status lookup for %s failed: %v", jobID, err)
		return response.ServiceError(c, "Failed to read job status")
	}
	return response.OK(c, st)
}

// Result handles GET /api/result/:jobId
// @Summary      Download the dubbed video
// @Tags         Dubbing
// @Produce      video/mp4
// @Param        jobId path string true "Job ID"
// @Success      200 {file} file
// @Success      302 "Redirect to a signed URL"
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/result/{jobId} [get]
func (h *DubbingHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	res, err := h.service.FetchResult(c.Context(), jobID)
	if errors.Is(err, service.ErrResultNotFound) {
		return response.NotFound(c, "Result not found")
	}
	if err != nil {
		return response.ServiceError(c, "Failed to read result")
	}

	if res.URL != "" {
		return c.Redirect(res.URL, fiber.StatusFound)
	}
	return c.Download(res.Path, jobID+".mp4")
}

// Jobs handles GET /api/jobs
// @Summary      Recently finished jobs
// @Tags         Dubbing
// @Produce      json
// @Param        limit query int false "Max entries (default 50)"
// @Success      200 {array} model.JobHistoryEntry
// @Router       /api/jobs [get]
func (h *DubbingHandler) Jobs(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil || limit < 0 || limit > 500 {
		return response.ValidationError(c, "limit must be between 0 and 500", nil)
	}

	entries, err := h.service.RecentJobs(c.Context(), limit)
	if err != nil {
		log.Printf("[Handler] Listing jobs failed: %v", err)
		return response.ServiceError(c, "Failed to list jobs")
	}
	return response.OK(c, fiber.Map{"jobs": entries})
}
