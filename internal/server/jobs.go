package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	jobdomain "github.com/tubescribe/tubescribe/internal/job/domain"
	quotadomain "github.com/tubescribe/tubescribe/internal/quota/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type createJobRequest struct {
	YoutubeID       string  `json:"youtube_id" binding:"required"`
	VideoID         *string `json:"video_id"`
	DurationSeconds int     `json:"duration_seconds" binding:"required"`
}

type createJobResponse struct {
	Job      *jobdomain.TranscriptionJob `json:"job"`
	Decision *quotadomain.Decision       `json:"decision"`
}

// CreateJob runs admission and registers the job in one call. The decision is
// returned alongside rejections so clients can render the reason without a
// second round trip.
func (s *Server) CreateJob(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	allowed, err := s.jobStartLimiter.AllowUser(c.Request.Context(), userID)
	if err != nil {
		// Redis trouble must not take job starts down with it.
		s.log.Warn("job start rate limit check failed", zap.Error(err))
	} else if !allowed {
		AbortWithError(c, ErrRateLimited)
		return
	}

	estimated := (req.DurationSeconds + 59) / 60
	decision, err := s.quotaSvc.Decide(c.Request.Context(), userID, req.YoutubeID, estimated)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		status := http.StatusPaymentRequired
		if decision.Reason == quotadomain.ReasonExistingJob {
			status = http.StatusConflict
		}
		c.JSON(status, createJobResponse{Decision: decision})
		return
	}

	job, err := s.jobSvc.Create(c.Request.Context(), jobdomain.CreateRequest{
		UserID:          userID,
		YoutubeID:       req.YoutubeID,
		VideoID:         req.VideoID,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createJobResponse{Job: job, Decision: decision})
}

func (s *Server) ListJobs(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query struct {
		PageToken string `form:"page_token"`
		PageSize  int    `form:"page_size,default=20"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.jobSvc.List(c.Request.Context(), jobdomain.ListRequest{
		UserID:    userID,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetJob(c *gin.Context) {
	jobID, err := s.paramJobID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.ownedJob(c, jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

type advanceJobRequest struct {
	Status          *string `json:"status"`
	Progress        *int    `json:"progress"`
	CurrentStage    *string `json:"current_stage"`
	TotalChunks     *int    `json:"total_chunks"`
	CompletedChunks *int    `json:"completed_chunks"`
}

func (s *Server) AdvanceJob(c *gin.Context) {
	jobID, err := s.paramJobID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.ownedJob(c, jobID); err != nil {
		AbortWithError(c, err)
		return
	}

	var req advanceJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	advance := jobdomain.AdvanceRequest{
		JobID:           jobID,
		Progress:        req.Progress,
		CurrentStage:    req.CurrentStage,
		TotalChunks:     req.TotalChunks,
		CompletedChunks: req.CompletedChunks,
	}
	if req.Status != nil {
		status := jobdomain.Status(*req.Status)
		advance.Status = &status
	}

	job, err := s.jobSvc.Advance(c.Request.Context(), advance)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

type completeJobRequest struct {
	Transcript              datatypes.JSONMap `json:"transcript"`
	MeasuredDurationSeconds *int              `json:"measured_duration_seconds"`
}

func (s *Server) CompleteJob(c *gin.Context) {
	jobID, err := s.paramJobID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.ownedJob(c, jobID); err != nil {
		AbortWithError(c, err)
		return
	}

	var req completeJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	job, err := s.jobSvc.Complete(c.Request.Context(), jobdomain.CompleteRequest{
		JobID:                   jobID,
		Transcript:              req.Transcript,
		MeasuredDurationSeconds: req.MeasuredDurationSeconds,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

type failJobRequest struct {
	ErrorMessage string `json:"error_message"`
}

func (s *Server) FailJob(c *gin.Context) {
	jobID, err := s.paramJobID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.ownedJob(c, jobID); err != nil {
		AbortWithError(c, err)
		return
	}

	// Body is optional; workers may report failure with no detail.
	var req failJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	if req.ErrorMessage == "" {
		req.ErrorMessage = "transcription failed"
	}

	job, err := s.jobSvc.Fail(c.Request.Context(), jobID, req.ErrorMessage)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) CancelJob(c *gin.Context) {
	jobID, err := s.paramJobID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.ownedJob(c, jobID); err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.jobSvc.Cancel(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// GetSharedTranscript returns the newest completed job for a video regardless
// of owner. Transcripts are shareable, so a video someone else already paid to
// transcribe does not need to be transcribed again.
func (s *Server) GetSharedTranscript(c *gin.Context) {
	youtubeID := c.Param("youtube_id")
	if youtubeID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	job, err := s.jobSvc.CompletedForSubject(c.Request.Context(), youtubeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if job == nil {
		AbortWithError(c, jobdomain.ErrJobNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":     job.ID,
		"youtube_id": job.YoutubeID,
		"transcript": job.TranscriptData,
	})
}

func (s *Server) paramJobID(c *gin.Context) (snowflake.ID, error) {
	raw := c.Param("job_id")
	parsed, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, jobdomain.ErrJobNotFound
	}
	return parsed, nil
}

// ownedJob loads the job and enforces that the caller owns it. Cross-user job
// IDs read as not found rather than forbidden, so IDs cannot be probed.
func (s *Server) ownedJob(c *gin.Context, jobID snowflake.ID) (*jobdomain.TranscriptionJob, error) {
	userID, ok := userIDFrom(c)
	if !ok {
		return nil, ErrUnauthorized
	}

	job, err := s.jobSvc.Get(c.Request.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, jobdomain.ErrJobNotFound
	}
	return job, nil
}
