package repository

import "errors"

var (
	// ErrInvalidEventInput 事件缺少记录 ID 或事件 ID
	ErrInvalidEventInput = errors.New("record id and event id are required")
	// ErrConcurrentUpdate 乐观并发重试次数耗尽
	ErrConcurrentUpdate = errors.New("concurrent update retries exhausted")
)
