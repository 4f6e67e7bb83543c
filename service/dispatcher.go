package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"storyboard-server/models"
)

const TypeGenerateTask = "storyboard:generate"

// TaskPayload 队列消息体
type TaskPayload struct {
	TaskID string `json:"task_id"`
}

// Dispatcher 把已落库的任务交给执行方
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.Task) error
}

// RunFunc 执行一个任务
type RunFunc func(ctx context.Context, taskID string) error

// InlineDispatcher 每个任务一个 goroutine
type InlineDispatcher struct {
	run RunFunc
	log *zap.Logger
	wg  sync.WaitGroup

	// base 任务不跟随请求的 ctx，只在 Shutdown 超时时取消
	base   context.Context
	cancel context.CancelFunc
}

// shutdownGrace 取消后等待任务回写失败状态的时间
const shutdownGrace = 2 * time.Second

func NewInlineDispatcher(run RunFunc, log *zap.Logger) *InlineDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &InlineDispatcher{run: run, log: log, base: base, cancel: cancel}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, task *models.Task) error {
	if err := d.base.Err(); err != nil {
		return fmt.Errorf("dispatcher stopped: %w", err)
	}
	id := task.ID
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.run(d.base, id); err != nil {
			d.log.Error("Inline task failed", zap.String("task_id", id), zap.Error(err))
		}
	}()
	return nil
}

// Wait 等待所有在途任务结束
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown 等待在途任务结束。ctx 到期后取消剩余任务，让它们把记录置为 failed，
// 再最多等待 shutdownGrace
func (d *InlineDispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
	}

	d.log.Warn("Canceling in-flight tasks")
	d.cancel()
	select {
	case <-done:
		return nil
	case <-time.After(shutdownGrace):
		return fmt.Errorf("inline tasks still running: %w", ctx.Err())
	}
}

// AsynqDispatcher 通过 redis 队列投递，由 Processor 消费
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(opt asynq.RedisClientOpt) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(opt), queue: "default"}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, task *models.Task) error {
	payload, err := json.Marshal(TaskPayload{TaskID: task.ID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	// 外部任务不可取消，重试会重复提交，因此不重试
	t := asynq.NewTask(TypeGenerateTask, payload, asynq.MaxRetry(0), asynq.Queue(d.queue))
	if _, err := d.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}
