package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropServe/internal/pkg/health"
	"github.com/ManuelReschke/PropServe/internal/pkg/jobqueue"
)

// QueueInspector reads job queue counters.
type QueueInspector interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// SweepRunner runs one staging sweep on demand.
type SweepRunner interface {
	RunSweepOnce(ctx context.Context) error
}

// OpsController serves the health probe and the operator endpoints
type OpsController struct {
	queue   QueueInspector
	sweeper SweepRunner
	health  *health.Checker
}

func NewOpsController(queue QueueInspector, sweeper SweepRunner, checker *health.Checker) *OpsController {
	return &OpsController{queue: queue, sweeper: sweeper, health: checker}
}

// HandleHealth answers 503 when any dependency check fails
func (oc *OpsController) HandleHealth(c *fiber.Ctx) error {
	report := oc.health.Run(c.UserContext())
	status := fiber.StatusOK
	if !report.Healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}

// HandleQueueStats returns job counters and list sizes
func (oc *OpsController) HandleQueueStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	stats, err := oc.queue.GetJobStats(ctx)
	if err != nil {
		log.Errorf("[Ops] Failed to read job stats: %v", err)
		return respondError(c, err)
	}
	pending, err := oc.queue.GetQueueSize(ctx)
	if err != nil {
		return respondError(c, err)
	}
	processing, err := oc.queue.GetProcessingSize(ctx)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"stats":      stats,
		"pending":    pending,
		"processing": processing,
		"checkedAt":  time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSweep runs the expiry sweeper once and waits for it
func (oc *OpsController) HandleSweep(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := oc.sweeper.RunSweepOnce(ctx); err != nil {
		log.Errorf("[Ops] Manual sweep failed: %v", err)
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "took": time.Since(start).String()})
}
