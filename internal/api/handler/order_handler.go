package handler

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/d60-Lab/marketplace/internal/delivery"
	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/pkg/response"
)

type orderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type createOrderRequest struct {
	SellerID         string             `json:"seller_id" binding:"required"`
	Items            []orderItemRequest `json:"items" binding:"required,min=1,dive"`
	DeliveryMethod   string             `json:"delivery_method" binding:"required,delivery_method"`
	DeliveryAddress  string             `json:"delivery_address"`
	DeliveryProvince string             `json:"delivery_province"`
	DeliveryCanton   string             `json:"delivery_canton"`
	DeliveryDistrict string             `json:"delivery_district"`
	DeliveryNotes    string             `json:"delivery_notes"`
	DeliveryFee      *decimal.Decimal   `json:"delivery_fee"`
	BuyerLatitude    json.Number        `json:"buyer_latitude"`
	BuyerLongitude   json.Number        `json:"buyer_longitude"`
	PaymentMethod    string             `json:"payment_method" binding:"required,payment_method"`
	BuyerPhone       string             `json:"buyer_phone"`
	BuyerNotes       string             `json:"buyer_notes"`
}

type updateStatusRequest struct {
	Status      string  `json:"status" binding:"required,order_status"`
	Notes       string  `json:"notes"`
	SellerNotes *string `json:"seller_notes"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type deliveryCostRequest struct {
	SellerLatitude  json.Number `json:"seller_latitude"`
	SellerLongitude json.Number `json:"seller_longitude"`
	BuyerLatitude   json.Number `json:"buyer_latitude"`
	BuyerLongitude  json.Number `json:"buyer_longitude"`
}

// CreateOrder 下单：锁定库存行、扣减库存并生成订单
// @Summary 创建订单
// @Tags 订单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createOrderRequest true "订单信息"
// @Success 201 {object} response.Response{data=model.Order}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/orders [post]
func (h *Handler) CreateOrder(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	in := service.CreateOrderInput{
		SellerID:         req.SellerID,
		DeliveryMethod:   model.DeliveryMethod(req.DeliveryMethod),
		DeliveryAddress:  req.DeliveryAddress,
		DeliveryProvince: req.DeliveryProvince,
		DeliveryCanton:   req.DeliveryCanton,
		DeliveryDistrict: req.DeliveryDistrict,
		DeliveryNotes:    req.DeliveryNotes,
		DeliveryFee:      req.DeliveryFee,
		PaymentMethod:    model.PaymentMethod(req.PaymentMethod),
		BuyerPhone:       req.BuyerPhone,
		BuyerNotes:       req.BuyerNotes,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.OrderItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if req.BuyerLatitude != "" || req.BuyerLongitude != "" {
		p, err := delivery.ParsePoint(req.BuyerLatitude, req.BuyerLongitude)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		in.BuyerLocation = &p
	}

	order, err := h.orders.Create(c.Request.Context(), a, in)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, order)
}

// ListOrders 按角色列出订单
// @Summary 订单列表
// @Tags 订单
// @Produce json
// @Security BearerAuth
// @Param status query string false "订单状态"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/orders [get]
func (h *Handler) ListOrders(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	status := model.OrderStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		response.BadRequest(c, "unknown status")
		return
	}
	list, total, err := h.orders.List(c.Request.Context(), a, service.ListOrdersInput{Status: status, Page: page, PageSize: size})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": size, "total": total, "list": list})
}

// GetOrder 订单详情（含明细与状态历史）
// @Summary 订单详情
// @Tags 订单
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/orders/{id} [get]
func (h *Handler) GetOrder(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	order, err := h.orders.Get(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, order)
}

// UpdateOrderStatus 卖家推进订单状态
// @Summary 更新订单状态
// @Tags 订单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Param request body updateStatusRequest true "目标状态"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 403 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/orders/{id}/update_status [post]
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	order, err := h.orders.UpdateStatus(c.Request.Context(), a, c.Param("id"), service.UpdateStatusInput{
		Status:      model.OrderStatus(req.Status),
		Notes:       req.Notes,
		SellerNotes: req.SellerNotes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, order)
}

// ConfirmPayment 卖家手动确认 SINPE 收款
// @Summary 确认收款
// @Tags 订单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Param request body notesRequest false "备注"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 409 {object} response.Response
// @Router /api/v1/orders/{id}/confirm_payment [post]
func (h *Handler) ConfirmPayment(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req notesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	order, err := h.orders.ConfirmPayment(c.Request.Context(), a, c.Param("id"), req.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 买家取消订单并回补库存
// @Summary 取消订单
// @Tags 订单
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Param reason query string false "取消原因"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 409 {object} response.Response
// @Router /api/v1/orders/{id} [delete]
func (h *Handler) CancelOrder(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	reason := c.Query("reason")
	if c.Request.ContentLength > 0 {
		var req cancelRequest
		if err := c.ShouldBindJSON(&req); err == nil && req.Reason != "" {
			reason = req.Reason
		}
	}
	order, err := h.orders.Cancel(c.Request.Context(), a, c.Param("id"), reason)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, order)
}

// CalculateDeliveryCost 按两点距离报价配送费
// @Summary 计算配送费
// @Tags 订单
// @Accept json
// @Produce json
// @Param request body deliveryCostRequest true "坐标"
// @Success 200 {object} response.Response{data=delivery.Quote}
// @Failure 400 {object} response.Response
// @Router /api/v1/orders/calculate_delivery_cost [post]
func (h *Handler) CalculateDeliveryCost(c *gin.Context) {
	var req deliveryCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	from, err := delivery.ParsePoint(req.SellerLatitude, req.SellerLongitude)
	if err != nil {
		response.BadRequest(c, "seller: "+err.Error())
		return
	}
	to, err := delivery.ParsePoint(req.BuyerLatitude, req.BuyerLongitude)
	if err != nil {
		response.BadRequest(c, "buyer: "+err.Error())
		return
	}
	response.Success(c, h.fees.Quote(from, to))
}
