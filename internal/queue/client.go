package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/config"
	"github.com/harvesttable/donations/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// CriticalQueue 资金相关任务队列
	CriticalQueue = constants.QueueCritical

	donorAdjustmentMaxRetry = 10
	receiptEmailMaxRetry    = 5
)

// Client 队列客户端封装
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	opt := buildRedisOpt(cfg)
	client := asynq.NewClient(opt)
	return &Client{
		client:       client,
		enabled:      true,
		defaultQueue: DefaultQueue,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueDonorAdjustment 推送捐赠人汇总调整，TaskID 使用 SourceKey 去重
func (c *Client) EnqueueDonorAdjustment(payload DonorAdjustmentPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewDonorAdjustmentTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task,
		asynq.Queue(CriticalQueue),
		asynq.TaskID("donor-adjustment:"+payload.SourceKey),
		asynq.MaxRetry(donorAdjustmentMaxRetry),
	)
}

// EnqueueDonorRebuild 推送捐赠人汇总重建任务
func (c *Client) EnqueueDonorRebuild(payload DonorRebuildPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewDonorRebuildTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, asynq.Queue(c.defaultQueue), asynq.MaxRetry(1), asynq.Timeout(10*time.Minute))
}

// EnqueueReceiptEmail 推送收据邮件任务，同一记录只发送一次
func (c *Client) EnqueueReceiptEmail(payload DonationReceiptEmailPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewDonationReceiptEmailTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task,
		asynq.Queue(c.defaultQueue),
		asynq.TaskID("receipt:"+payload.RecordID),
		asynq.MaxRetry(receiptEmailMaxRetry),
		asynq.Retention(24*time.Hour),
	)
}

// EnqueueWebhookReplay 延迟重放 webhook 事件
func (c *Client) EnqueueWebhookReplay(payload WebhookReplayPayload, delay time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	if delay < 0 {
		delay = 0
	}
	task, err := NewWebhookReplayTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task,
		asynq.Queue(CriticalQueue),
		asynq.ProcessIn(delay),
		asynq.TaskID(fmt.Sprintf("webhook-replay:%s:%d", payload.Event.ID, payload.Attempt)),
		asynq.MaxRetry(3),
	)
}

func (c *Client) enqueue(task *asynq.Task, opts ...asynq.Option) error {
	_, err := c.client.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{DefaultQueue: 1, CriticalQueue: 2}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
