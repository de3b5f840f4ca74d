package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON 自由结构字段（捐款 metadata 等）
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSON)
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
	if len(raw) == 0 {
		*j = make(JSON)
		return nil
	}
	return json.Unmarshal(raw, j)
}

// StringMap 转为字符串字典，非字符串值按 fmt 格式化
func (j JSON) StringMap() map[string]string {
	out := make(map[string]string, len(j))
	for k, v := range j {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// JSONFromStrings 由字符串字典构造
func JSONFromStrings(values map[string]string) JSON {
	if len(values) == 0 {
		return JSON{}
	}
	out := make(JSON, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
