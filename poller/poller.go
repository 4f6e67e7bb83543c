// Package poller 轮询外部长任务（视频生成）直到完成或失败。
//
// 每次等待都有边界：ctx 取消、超过 MaxWait、或重新查询次数达到 MaxAttempts 时结束。
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storyboard-server/models"
)

const DefaultInterval = 10 * time.Second

var (
	// ErrResultMissing 任务完成但没有返回媒体地址
	ErrResultMissing = errors.New("operation completed without a media locator")
	ErrTimedOut      = errors.New("operation polling timed out")

	errUnresolved = errors.New("operation did not resolve")
)

// JobFailedError 提供方报告任务失败
type JobFailedError struct {
	Operation string
	Message   string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.Operation, e.Message)
}

// Outcome 零值 OutcomeAborted，未显式判定的 Result 不会被当作成功
type Outcome int

const (
	// OutcomeAborted ctx 取消或查询出错，任务本身状态未知
	OutcomeAborted Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAborted:
		return "aborted"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result 轮询的终态
type Result struct {
	Outcome  Outcome
	MediaURI string
	Reason   string
	Attempts int
	err      error
}

// Err 非成功结果转换为 JobFailedError / ErrResultMissing / ErrTimedOut，中止时为取消或查询错误
func (r Result) Err() error {
	if r.Outcome == OutcomeSucceeded {
		return nil
	}
	if r.err == nil {
		return errUnresolved
	}
	return r.err
}

// RefreshFunc 重新查询一次任务句柄
type RefreshFunc func(ctx context.Context, op models.Operation) (models.Operation, error)

// TickFunc 每次重新查询前回调，attempt 从 1 开始
type TickFunc func(attempt int)

type Poller struct {
	Interval    time.Duration
	MaxWait     time.Duration // 0 表示不限
	MaxAttempts int           // 0 表示不限
	Logger      *zap.Logger
}

func New(interval, maxWait time.Duration, maxAttempts int, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{Interval: interval, MaxWait: maxWait, MaxAttempts: maxAttempts, Logger: log.Named("poller")}
}

// Wait 轮询 op 直到结束。返回的 error 仅表示查询失败或 ctx 被取消，任务本身的结果在 Result 中
func (p *Poller) Wait(ctx context.Context, op models.Operation, refresh RefreshFunc, onTick TickFunc) (Result, error) {
	log := p.Logger.With(zap.String("operation", op.Name))

	var deadline <-chan time.Time
	if p.MaxWait > 0 {
		t := time.NewTimer(p.MaxWait)
		defer t.Stop()
		deadline = t.C
	}

	attempts := 0
	for {
		if res, done := evaluate(op, attempts); done {
			log.Debug("Operation resolved", zap.Stringer("outcome", res.Outcome), zap.Int("attempts", attempts))
			return res, nil
		}
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			log.Warn("Operation exceeded max attempts", zap.Int("attempts", attempts))
			return timedOut(attempts), nil
		}

		wait := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return aborted(attempts, ctx.Err())
		case <-deadline:
			wait.Stop()
			log.Warn("Operation exceeded max wait", zap.Duration("max_wait", p.MaxWait))
			return timedOut(attempts), nil
		case <-wait.C:
		}

		attempts++
		if onTick != nil {
			onTick(attempts)
		}
		next, err := refresh(ctx, op)
		if err != nil {
			return aborted(attempts, fmt.Errorf("poll %s: %w", op.Name, err))
		}
		if next.Name == "" {
			next.Name = op.Name
		}
		op = next
	}
}

func evaluate(op models.Operation, attempts int) (Result, bool) {
	if op.Error != nil {
		return Result{
			Outcome:  OutcomeFailed,
			Reason:   op.Error.Message,
			Attempts: attempts,
			err:      &JobFailedError{Operation: op.Name, Message: op.Error.Message},
		}, true
	}
	if !op.Done {
		return Result{}, false
	}
	if op.MediaURI == "" {
		return Result{
			Outcome:  OutcomeFailed,
			Reason:   ErrResultMissing.Error(),
			Attempts: attempts,
			err:      ErrResultMissing,
		}, true
	}
	return Result{Outcome: OutcomeSucceeded, MediaURI: op.MediaURI, Attempts: attempts}, true
}

func timedOut(attempts int) Result {
	return Result{Outcome: OutcomeTimedOut, Reason: ErrTimedOut.Error(), Attempts: attempts, err: ErrTimedOut}
}

func aborted(attempts int, err error) (Result, error) {
	return Result{Outcome: OutcomeAborted, Reason: err.Error(), Attempts: attempts, err: err}, err
}
