package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"legalrag/internal/bootstrap"
	"legalrag/internal/transport/http/handler"
	"legalrag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery(), middleware.Metrics())

	maxUpload := int64(app.Config.Storage.MaxUploadMB) << 20
	router.MaxMultipartMemory = maxUpload

	healthHandler := handler.NewHealthHandler(app.Admin, app.Config.App.Name, app.Config.App.Env, app.StartedAt)
	authHandler := handler.NewAuthHandler(app.Auth)
	documentHandler := handler.NewDocumentHandler(app.Admin, maxUpload)
	vectorStoreHandler := handler.NewVectorStoreHandler(app.Admin)
	configHandler := handler.NewConfigHandler(app.Admin)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", authHandler.Login)

	admin := v1.Group("/admin")
	if app.Config.Auth.Enabled {
		admin.Use(middleware.AuthJWT(app.Auth.Secret()))
	}
	admin.GET("/health", healthHandler.Check)

	admin.POST("/upload", documentHandler.Upload)
	admin.GET("/documents", documentHandler.List)
	admin.DELETE("/documents", documentHandler.Delete)
	admin.POST("/reprocess", documentHandler.Reprocess)

	admin.GET("/config", configHandler.All)
	admin.GET("/config/chunking", configHandler.GetChunking)
	admin.PUT("/config/chunking", configHandler.PutChunking)
	admin.GET("/config/embedding", configHandler.GetEmbedding)
	admin.PUT("/config/embedding", configHandler.PutEmbedding)
	admin.GET("/config/retrieval", configHandler.GetRetrieval)
	admin.PUT("/config/retrieval", configHandler.PutRetrieval)

	vs := admin.Group("/vectorstore")
	vs.GET("/stats", vectorStoreHandler.Stats)
	vs.POST("/search", vectorStoreHandler.Search)
	vs.POST("/retrieve", vectorStoreHandler.Retrieve)
	vs.POST("/rebuild", vectorStoreHandler.Rebuild)
	vs.GET("/rebuild/:job_id", vectorStoreHandler.RebuildStatus)
	vs.DELETE("/clear", vectorStoreHandler.Clear)
	vs.GET("/events", vectorStoreHandler.Events)

	return router
}
