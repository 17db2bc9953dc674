package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/marketplace/internal/model"
)

// RegisterValidators 注册业务枚举校验标签
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	tags := map[string]validator.Func{
		"order_status": func(fl validator.FieldLevel) bool {
			return model.OrderStatus(fl.Field().String()).Valid()
		},
		"delivery_method": func(fl validator.FieldLevel) bool {
			return model.DeliveryMethod(fl.Field().String()).Valid()
		},
		"payment_method": func(fl validator.FieldLevel) bool {
			return model.PaymentMethod(fl.Field().String()).Valid()
		},
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
