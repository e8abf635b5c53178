package core_users

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRoutes(r *gin.RouterGroup, runner Runner, log *zap.Logger) {
	handler := NewHandler(runner, log)
	r.POST("/run", handler.Run)
	r.GET("/runs/latest", handler.LatestRun)
}
