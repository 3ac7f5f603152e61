package handlers

import (
	"time"

	"github.com/cahq/orchestrator/internal/engine"
	"github.com/robfig/cron/v3"
)

// cronParser uses the standard five-field cron format, backed by
// robfig/cron/v3 for timezone-aware next-fire computation instead of a
// hand-rolled "next hour" approximation.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleHandler computes the next fire time for a `schedule` node and
// requeues the job to arrive then, honoring Config.Timezone so a cron
// expression evaluated in "America/New_York" does not silently drift
// when the runner host's local zone differs.
type ScheduleHandler struct{}

// Execute implements engine.Handler.
func (h *ScheduleHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	ns := hctx.Instance.NodeStates[node.ID]
	if ns != nil && ns.Attempts > 1 {
		return engine.HandlerResult{}, nil
	}

	cfg := node.Config
	if cfg == nil || (cfg.Cron == "" && cfg.Datetime == nil) {
		return engine.HandlerResult{}, configError(node, "schedule node requires cron or datetime")
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return engine.HandlerResult{}, configError(node, "invalid timezone %q: %v", cfg.Timezone, err)
		}
		loc = l
	}

	now := time.Now().In(loc)

	var next time.Time
	if cfg.Datetime != nil {
		next = cfg.Datetime.In(loc)
	} else {
		schedule, err := cronParser.Parse(cfg.Cron)
		if err != nil {
			return engine.HandlerResult{}, configError(node, "invalid cron expression %q: %v", cfg.Cron, err)
		}
		next = schedule.Next(now)
	}

	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return engine.HandlerResult{RequeueAfter: delay}, nil
}
