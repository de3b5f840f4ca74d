package admin

import (
	handlershared "github.com/harvesttable/donations/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

func getAdminUsername(c *gin.Context) (string, bool) {
	return handlershared.GetContextString(c, "admin_username")
}

func getAdminRole(c *gin.Context) string {
	return c.GetString("admin_role")
}
