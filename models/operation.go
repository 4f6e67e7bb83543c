package models

// Operation 外部长任务句柄（视频生成），轮询直到 Done
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *OperationError `json:"error,omitempty"`
	MediaURI string          `json:"mediaUri,omitempty"`
}

// OperationError 提供方返回的任务错误
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
