package handler

import (
	"github.com/billing/backend/internal/infrastructure/scheduler"
	"github.com/gin-gonic/gin"
)

// SchedulerHandler exposes the billing job scheduler for operators
type SchedulerHandler struct {
	BaseHandler
	trigger *scheduler.IntervalTrigger
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(trigger *scheduler.IntervalTrigger) *SchedulerHandler {
	return &SchedulerHandler{
		trigger: trigger,
	}
}

// TriggerJobRequest asks for an immediate run of a maintenance pass
type TriggerJobRequest struct {
	JobType    string `json:"job_type" binding:"required"`
	BatchLimit int    `json:"batch_limit" binding:"omitempty,min=1,max=1000"`
}

// GetStatus handles GET /system/scheduler/status
func (h *SchedulerHandler) GetStatus(c *gin.Context) {
	types := scheduler.AllJobTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	h.Success(c, SchedulerStatusData{
		Enabled:        h.trigger != nil,
		AvailableTypes: names,
	})
}

// TriggerJob handles POST /system/scheduler/trigger and submits a sweep
// or generation pass outside its regular interval
func (h *SchedulerHandler) TriggerJob(c *gin.Context) {
	if h.trigger == nil {
		h.InternalError(c, "Scheduler not configured")
		return
	}

	var req TriggerJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	jobType := scheduler.JobType(req.JobType)
	valid := false
	for _, t := range scheduler.AllJobTypes() {
		if t == jobType {
			valid = true
			break
		}
	}
	if !valid {
		h.BadRequest(c, "Unknown job type "+req.JobType)
		return
	}

	batchLimit := req.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 100
	}

	if err := h.trigger.TriggerNow(jobType, batchLimit); err != nil {
		h.InternalError(c, "Failed to schedule job")
		return
	}

	h.Success(c, gin.H{"job_type": string(jobType), "batch_limit": batchLimit})
}
