package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyboard-server/models"
	"storyboard-server/pipeline"
	"storyboard-server/wizard"
)

// Session 一个浏览器会话：向导 + 流水线
type Session struct {
	ID        string
	CreatedAt time.Time
	Wizard    *wizard.Controller
	Pipeline  *pipeline.Pipeline
}

// Sessions 进程内会话表
type Sessions struct {
	mu    sync.RWMutex
	items map[string]*Session
	opts  pipeline.Options
	log   *zap.Logger
}

// NewSessions opts 为每个会话流水线的公共依赖
func NewSessions(opts pipeline.Options, log *zap.Logger) *Sessions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sessions{items: make(map[string]*Session), opts: opts, log: log}
}

func (s *Sessions) Create() *Session {
	id := uuid.NewString()
	w := wizard.New()

	opts := s.opts
	opts.Logger = s.log.With(zap.String("session_id", id))
	opts.OnCharacterUpdate = w.UpdateCharacter
	p := pipeline.New(opts)
	w.OnEnterSummary = p.Load

	sess := &Session{ID: id, CreatedAt: time.Now(), Wizard: w, Pipeline: p}
	s.mu.Lock()
	s.items[id] = sess
	s.mu.Unlock()
	s.log.Info("Session created", zap.String("session_id", id))
	return sess
}

func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return sess, nil
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}
