package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap 用于处理数据库中的 JSON 字段 (GORM 兼容)
type JSONMap map[string]interface{}

// Value 实现 Gorm 的 Valuer 接口（写入数据库）
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 Gorm 的 Scanner 接口（读取数据库）
// sqlite 返回 string，mysql/postgres 返回 []byte
func (j *JSONMap) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = make(JSONMap)
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("models: unsupported JSONMap source %T", value)
	}
	if len(raw) == 0 {
		*j = make(JSONMap)
		return nil
	}
	return json.Unmarshal(raw, j)
}

// String 读取字符串字段，不存在时返回空串
func (j JSONMap) String(key string) string {
	if j == nil {
		return ""
	}
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}
