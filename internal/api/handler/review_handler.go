package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/pkg/response"
)

type createReviewRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=2000"`
}

// CreateReview 已送达订单的买家评价
// @Summary 创建评价
// @Tags 评价
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createReviewRequest true "评价内容"
// @Success 201 {object} response.Response{data=model.Review}
// @Failure 409 {object} response.Response
// @Router /api/v1/reviews [post]
func (h *Handler) CreateReview(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req createReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	review, err := h.reviews.Create(c.Request.Context(), a, service.CreateReviewInput{
		OrderID: req.OrderID,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, review)
}

// DeleteReview 删除评价
// @Summary 删除评价
// @Tags 评价
// @Produce json
// @Security BearerAuth
// @Param id path string true "评价ID"
// @Success 200 {object} response.Response
// @Router /api/v1/reviews/{id} [delete]
func (h *Handler) DeleteReview(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if err := h.reviews.Delete(c.Request.Context(), a, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}
