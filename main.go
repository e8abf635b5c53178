package main

import (
	"net/http"
	"os"

	coreUsersHTTP "corecu_go/internal/core_users"
	exportHTTP "corecu_go/internal/export"
	"corecu_go/internal/middleware"
	"corecu_go/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:           "corecu",
		Short:         "Ядро пользователей канала: отчёты по комментариям и выгрузка деревьев",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var cfgPath string
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "файл конфигурации (по умолчанию ./config.*)")

	root.AddCommand(
		serveCMD(&cfgPath),
		migrateCMD(&cfgPath),
		reportCMD(&cfgPath),
		exportCMD(&cfgPath),
		loginCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// routerDeps — зависимости HTTP-слоя.
type routerDeps struct {
	Runner   coreUsersHTTP.Runner
	Resolver exportHTTP.PeerResolver
	Exporter exportHTTP.Exporter
	Metrics  *metrics.Metrics
	APIToken string
	Log      *zap.Logger
}

// Настройка маршрутов
func setupRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Log))

	auth := middleware.AuthRequired(d.APIToken)

	coreGroup := r.Group("/core-users", auth)
	coreUsersHTTP.SetupRoutes(coreGroup, d.Runner, d.Log)

	exportGroup := r.Group("/export", auth)
	exportHTTP.SetupRoutes(exportGroup, d.Resolver, d.Exporter, d.Log)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	d.Log.Info("маршруты зарегистрированы",
		zap.Strings("routes", []string{
			"POST /core-users/run",
			"GET /core-users/runs/latest",
			"POST /export/comments",
			"GET /health",
			"GET /metrics",
		}),
		zap.Bool("auth", d.APIToken != ""),
	)
	return r
}
