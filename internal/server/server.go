package server

import (
	"github.com/amrrdev/quizscan/internal/handler"
	"github.com/amrrdev/quizscan/internal/middleware"
	"github.com/amrrdev/quizscan/internal/routes"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewServer(jobHandler *handler.JobHandler, searchHandler *handler.SearchHandler, authMiddleware *middleware.AuthMiddleware, logger zerolog.Logger) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), middleware.RequestLogger(logger))
	g.MaxMultipartMemory = 8 << 20

	routes.RegisterHealth(g)
	api := g.Group("/api/v1")
	routes.RegisterRoutes(api, jobHandler, searchHandler, authMiddleware)

	return g
}
