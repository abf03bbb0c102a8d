package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/quickbook-dispatch/internal/api/dto"
	"github.com/cuongbtq/quickbook-dispatch/internal/intake"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateQuickBookJob handles POST /api/v1/jobs/quick-book
func (h *JobHandler) CreateQuickBookJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		respondBadRequest(c, "body", err)
		return
	}

	job, err := h.intake.CreateJob(c.Request.Context(), userID(c), intake.CreateJobRequest{
		CategoryID:         req.CategoryID,
		Title:              req.Title,
		Description:        req.Description,
		Address:            req.Address,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		ArrivalWindowHours: req.ArrivalWindowHours,
	})
	if err != nil {
		respondError(c, h.logger, "CreateJob", err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id. Customers see every offer of
// their job, providers only their own.
func (h *JobHandler) GetJob(c *gin.Context) {
	st, err := h.intake.GetJob(c.Request.Context(), c.Param("job_id"), userID(c))
	if err != nil {
		respondError(c, h.logger, "GetJob", err)
		return
	}

	c.JSON(http.StatusOK, jobStateDTO(st))
}

func jobStateDTO(st *store.JobState) dto.JobDTO {
	out := dto.FromJob(st.Job)
	for _, o := range st.Offers {
		out.Offers = append(out.Offers, dto.FromOffer(o))
	}
	return out
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBadRequest(c, "query", err)
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		respondBadRequest(c, "cursor", err)
		return
	}

	jobs, hasMore, err := h.intake.ListJobs(c.Request.Context(), userID(c), req.Status, req.PageSize, cursor)
	if err != nil {
		respondError(c, h.logger, "ListJobs", err)
		return
	}

	resp := dto.ListJobsResponse{
		Jobs:    make([]dto.JobDTO, len(jobs)),
		HasMore: hasMore,
	}
	for i, job := range jobs {
		resp.Jobs[i] = dto.FromJob(job)
	}
	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&store.JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID})
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.arbiter.Cancel(c.Request.Context(), c.Param("job_id"), userID(c))
	if err != nil {
		respondError(c, h.logger, "CancelJob", err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListAvailableJobs handles GET /api/v1/jobs/available
// Returns the caller's pending, unexpired offers nearest first
func (h *JobHandler) ListAvailableJobs(c *gin.Context) {
	offers, err := h.arbiter.AvailableOffers(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, h.logger, "ListAvailableJobs", err)
		return
	}

	resp := dto.AvailableJobsResponse{Jobs: make([]dto.AvailableJobDTO, len(offers))}
	for i, o := range offers {
		resp.Jobs[i] = dto.FromAvailableOffer(o)
	}
	c.JSON(http.StatusOK, resp)
}

// AcceptJob handles POST /api/v1/jobs/accept
func (h *JobHandler) AcceptJob(c *gin.Context) {
	var req dto.OfferActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "job_id", err)
		return
	}

	job, err := h.arbiter.Accept(c.Request.Context(), req.JobID, userID(c))
	if err != nil {
		respondError(c, h.logger, "AcceptJob", err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// DeclineJob handles POST /api/v1/jobs/decline
func (h *JobHandler) DeclineJob(c *gin.Context) {
	var req dto.OfferActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "job_id", err)
		return
	}

	providerID := userID(c)
	status, err := h.arbiter.Decline(c.Request.Context(), req.JobID, providerID)
	if err != nil {
		respondError(c, h.logger, "DeclineJob", err)
		return
	}

	c.JSON(http.StatusOK, dto.OfferActionResponse{
		JobID:      req.JobID,
		ProviderID: providerID,
		Status:     string(status),
	})
}
