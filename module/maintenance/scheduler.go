package maintenance

import (
	"context"
	"time"

	"pulsechat/logger"
	"pulsechat/tools/errs"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// DefaultCron 每天凌晨两点
const DefaultCron = "0 2 * * *"

// Start 启动维护调度器；按 cron 表达式唤醒，永不在请求路径上触发。
// 返回 cancel 以便优雅停机。
func Start(ctx context.Context, job *Job, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, errs.ErrValidation.WrapMsg("invalid maintenance cron expression", "cron", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runLoop(ctx2, job, cronExpr)
	logger.Info("maintenance scheduler started", zap.String("cron", cronExpr))
	return cancel, nil
}

// runLoop 计算下一个 tick 并睡到点；到点后跑一轮 RunCycle
func runLoop(ctx context.Context, job *Job, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("maintenance scheduler stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("maintenance next tick failed", zap.String("cron", cronExpr), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			job.RunCycle(ctx)
		case <-ctx.Done():
			logger.Info("maintenance scheduler stopping")
			return
		}
	}
}
