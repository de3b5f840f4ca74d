package public

import "github.com/harvesttable/donations/internal/provider"

// Handler 公开接口处理器入口
// 说明：该处理器仅用于捐款页、感谢页与网关回调。
type Handler struct {
	*provider.Container
}

// New 创建公开接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
