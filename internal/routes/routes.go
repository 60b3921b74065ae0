package routes

import (
	"net/http"

	"github.com/amrrdev/quizscan/internal/handler"
	"github.com/amrrdev/quizscan/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(router *gin.RouterGroup, jobHandler *handler.JobHandler, searchHandler *handler.SearchHandler, authMiddleware *middleware.AuthMiddleware) {
	jobs := router.Group("/jobs")
	jobs.Use(authMiddleware.RequireAuth())
	{
		jobs.POST("", jobHandler.Submit)
		jobs.POST("/upload-url/:filename", jobHandler.GetUploadUrl)
		jobs.GET("/:id", jobHandler.Status)
		jobs.GET("/:id/questions", jobHandler.Questions)
	}

	questions := router.Group("/questions")
	questions.Use(authMiddleware.RequireAuth())
	{
		questions.GET("/search", searchHandler.Search)
	}
}

func RegisterHealth(g *gin.Engine) {
	g.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
