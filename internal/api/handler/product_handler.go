package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/marketplace/pkg/response"
)

// GetProduct 商品详情，浏览数 +1
// @Summary 商品详情
// @Tags 商品
// @Produce json
// @Param id path string true "商品ID"
// @Success 200 {object} response.Response{data=model.Product}
// @Failure 404 {object} response.Response
// @Router /api/v1/products/{id} [get]
func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.products.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, p)
}
