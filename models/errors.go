package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrGeneration 分镜拆解失败
	ErrGeneration = errors.New("generation failed")
)

// ValidationError 前置条件不满足，不会发起任何外部调用
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(msg string) error {
	return &ValidationError{Msg: msg}
}

// IsValidation 判断是否为 ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ProviderError 外部生成接口调用失败
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// GenerationError 包装分镜拆解失败的原因
func GenerationError(cause error) error {
	if cause == nil {
		return ErrGeneration
	}
	return fmt.Errorf("%w: %w", ErrGeneration, cause)
}

// PersistenceReadError 集合读取失败。读取时只记录日志，读改写时返回给调用方
type PersistenceReadError struct {
	Key string
	Err error
}

func (e *PersistenceReadError) Error() string {
	return fmt.Sprintf("read collection %q: %v", e.Key, e.Err)
}

func (e *PersistenceReadError) Unwrap() error { return e.Err }
