package service

import "github.com/d60-Lab/marketplace/internal/model"

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role model.Role
}

func (a Actor) IsAdmin() bool { return a.Role == model.RoleAdmin }

// ref returns the id for history and audit columns; empty ids are stored as NULL.
func (a Actor) ref() *string {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

// participation classifies the actor against an order.
func (a Actor) participation(o *model.Order) (buyer, seller bool) {
	return a.ID != "" && a.ID == o.BuyerID, a.ID != "" && a.ID == o.SellerID
}

// requireSeller lets the order's seller or an admin through.
func (a Actor) requireSeller(o *model.Order, action string) error {
	if a.IsAdmin() {
		return nil
	}
	buyer, seller := a.participation(o)
	switch {
	case seller:
		return nil
	case buyer:
		return notPermitted("only the seller can %s", action)
	default:
		return forbidden("order %s", o.OrderNumber)
	}
}

// requireBuyer lets the order's buyer or an admin through.
func (a Actor) requireBuyer(o *model.Order, action string) error {
	if a.IsAdmin() {
		return nil
	}
	buyer, seller := a.participation(o)
	switch {
	case buyer:
		return nil
	case seller:
		return notPermitted("only the buyer can %s", action)
	default:
		return forbidden("order %s", o.OrderNumber)
	}
}
