package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"storyboard-server/models"
)

// Processor 处理队列任务
type Processor struct {
	run RunFunc
	log *zap.Logger
	srv *asynq.Server
}

func NewProcessor(run RunFunc, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{run: run, log: log.Named("processor")}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(opt asynq.RedisClientOpt, concurrency int) {
	p.srv = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger: p.log.Sugar(),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateTask, p.HandleGenerateTask)

	p.log.Info("Starting task processor", zap.Int("concurrency", concurrency))
	go func() {
		if err := p.srv.Run(mux); err != nil {
			p.log.Error("Task processor stopped", zap.Error(err))
		}
	}()
}

func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// HandleGenerateTask 核心处理逻辑
func (p *Processor) HandleGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.TaskID == "" {
		return fmt.Errorf("payload missing task_id: %w", asynq.SkipRetry)
	}

	err := p.run(ctx, payload.TaskID)
	if errors.Is(err, models.ErrNotFound) {
		// 任务或会话已不存在，重试无意义
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
