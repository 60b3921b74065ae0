package handler

import (
	"net/http"
	"strconv"

	"github.com/amrrdev/quizscan/internal/index"
	"github.com/amrrdev/quizscan/internal/middleware"
	"github.com/amrrdev/quizscan/internal/service"
	"github.com/gin-gonic/gin"
)

type SearchHandler struct {
	searchService *service.Search
}

func NewSearchHandler(searchService *service.Search) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

type SearchResponse struct {
	Results []index.Result `json:"results"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	results, err := h.searchService.Search(c.Request.Context(), middleware.GetUserID(c), c.Query("q"), limit)
	if err != nil {
		writeError(c, err, "Search failed")
		return
	}

	c.JSON(http.StatusOK, SearchResponse{Results: results})
}
