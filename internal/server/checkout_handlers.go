package server

import (
	"editions/internal/service"

	"github.com/gofiber/fiber/v2"
)

type claimRequest struct {
	PostID uint `json:"post_id"`
}

type purchaseRequest struct {
	PostID    uint `json:"post_id"`
	NFTAmount int  `json:"nft_amount"`
}

type cancelRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// Claim handles POST /api/claims.
func (s *Server) Claim(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	var req claimRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	token, err := s.Claims.Claim(c.UserContext(), service.ClaimInput{UserID: userID, PostID: req.PostID, IP: c.IP()})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(token)
}

// CreatePurchase handles POST /api/purchases.
func (s *Server) CreatePurchase(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	var req purchaseRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.NFTAmount == 0 {
		req.NFTAmount = 1
	}

	checkout, err := s.Purchases.CreatePurchase(c.UserContext(), service.CreatePurchaseInput{
		BuyerID:   userID,
		PostID:    req.PostID,
		NFTAmount: req.NFTAmount,
		IP:        c.IP(),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(checkout)
}

// CancelCheckout handles POST /api/purchases/cancel.
func (s *Server) CancelCheckout(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	var req cancelRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.Purchases.CancelCheckout(c.UserContext(), userID, req.PaymentIntentID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
