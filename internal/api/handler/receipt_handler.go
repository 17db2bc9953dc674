package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/pkg/response"
)

type manualReviewRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Notes    string `json:"notes"`
}

// UploadReceipt 买家上传 SINPE 转账凭证
// @Summary 上传支付凭证
// @Tags 支付
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param order_id formData string true "订单ID"
// @Param receipt_image formData file true "凭证图片"
// @Success 201 {object} response.Response{data=model.PaymentReceipt}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/payments/receipts/upload [post]
func (h *Handler) UploadReceipt(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(c.PostForm("order_id"))
	if orderID == "" {
		response.BadRequest(c, "order_id is required")
		return
	}
	fh, err := c.FormFile("receipt_image")
	if err != nil {
		response.BadRequest(c, "receipt_image is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	defer f.Close()

	receipt, err := h.receipts.Upload(c.Request.Context(), a, service.UploadReceiptInput{
		OrderID:  orderID,
		Filename: fh.Filename,
		Image:    f,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, receipt)
}

// ListPendingReceipts 卖家待处理的凭证
// @Summary 待审核凭证列表
// @Tags 支付
// @Produce json
// @Security BearerAuth
// @Param status query []string false "状态过滤" collectionFormat(multi)
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/payments/receipts/pending [get]
func (h *Handler) ListPendingReceipts(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var statuses []model.ReceiptStatus
	for _, s := range c.QueryArray("status") {
		statuses = append(statuses, model.ReceiptStatus(strings.ToUpper(s)))
	}
	page, size := pageParams(c)
	list, err := h.receipts.ListPending(c.Request.Context(), a, statuses, page, size)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": size, "list": list})
}

// GetReceipt 凭证详情
// @Summary 凭证详情
// @Tags 支付
// @Produce json
// @Security BearerAuth
// @Param id path string true "凭证ID"
// @Success 200 {object} response.Response{data=model.PaymentReceipt}
// @Failure 404 {object} response.Response
// @Router /api/v1/payments/receipts/{id} [get]
func (h *Handler) GetReceipt(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	receipt, err := h.receipts.Get(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, receipt)
}

// DeleteReceipt 买家撤回待校验的凭证
// @Summary 撤回凭证
// @Tags 支付
// @Produce json
// @Security BearerAuth
// @Param id path string true "凭证ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/payments/receipts/{id} [delete]
func (h *Handler) DeleteReceipt(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if err := h.receipts.Delete(c.Request.Context(), a, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// ReceiptLogs 凭证的校验日志
// @Summary 校验日志
// @Tags 支付
// @Produce json
// @Security BearerAuth
// @Param id path string true "凭证ID"
// @Success 200 {object} response.Response{data=[]model.PaymentVerificationLog}
// @Router /api/v1/payments/receipts/{id}/logs [get]
func (h *Handler) ReceiptLogs(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	logs, err := h.receipts.Logs(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, logs)
}

// VerifyReceipt 重新触发自动校验
// @Summary 重新校验凭证
// @Tags 支付
// @Produce json
// @Security BearerAuth
// @Param id path string true "凭证ID"
// @Success 200 {object} response.Response{data=model.PaymentReceipt}
// @Failure 409 {object} response.Response
// @Router /api/v1/payments/receipts/{id}/verify [post]
func (h *Handler) VerifyReceipt(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	receipt, err := h.receipts.Retrigger(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, receipt)
}

// ManualReview 卖家人工审核
// @Summary 人工审核凭证
// @Tags 支付
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "凭证ID"
// @Param request body manualReviewRequest true "审核结果"
// @Success 200 {object} response.Response{data=model.PaymentReceipt}
// @Failure 409 {object} response.Response
// @Router /api/v1/payments/receipts/{id}/manual_review [post]
func (h *Handler) ManualReview(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req manualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	receipt, err := h.receipts.ManualReview(c.Request.Context(), a, c.Param("id"), service.ManualReviewInput{
		Approve: *req.Approved,
		Notes:   req.Notes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, receipt)
}
