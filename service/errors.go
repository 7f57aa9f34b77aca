package service

import (
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable 检测模型未加载
	ErrModelUnavailable = errors.New("models unavailable")
	// ErrInvalidImage 上传内容无法解码为图像
	ErrInvalidImage = errors.New("invalid image")
	// ErrNoFaceDetected 未检测到人脸，调用方按原图返回
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrUnknownProfile 不支持的增强模式
	ErrUnknownProfile = errors.New("unknown profile")
	// ErrQueueFull 等待处理队列超时
	ErrQueueFull = errors.New("processing queue is full")
)

// ProcessingError 处理阶段失败
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) || errors.Is(err, ErrModelUnavailable) {
		return err
	}
	return &ProcessingError{Stage: stage, Err: err}
}
