package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = gorm.ErrRecordNotFound
	// ErrStockConflict 条件扣减未命中（库存不足）
	ErrStockConflict = errors.New("stock changed concurrently")
)

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
