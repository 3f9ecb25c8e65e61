package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
)

func (s *Server) SubscribeMembership(c *gin.Context) {
	var req membershipdomain.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.TierID = strings.TrimSpace(req.TierID)
	req.BillingCycle = strings.TrimSpace(req.BillingCycle)
	if req.TierID == "" {
		AbortWithError(c, newValidationError("tier_id", "required", "tier_id is required"))
		return
	}

	resp, err := s.membershipSvc.Subscribe(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RetryMembershipPayment(c *gin.Context) {
	resp, err := s.membershipSvc.RetryPayment(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelMembership(c *gin.Context) {
	var req membershipdomain.CancelRequest
	// ContentLength is -1 for chunked requests; only a known-empty body
	// skips binding.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.membershipSvc.Cancel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ChangeMembershipPlan(c *gin.Context) {
	var req membershipdomain.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.NewTierID = strings.TrimSpace(req.NewTierID)
	req.BillingCycle = strings.TrimSpace(req.BillingCycle)
	if req.NewTierID == "" {
		AbortWithError(c, newValidationError("new_tier_id", "required", "new_tier_id is required"))
		return
	}

	resp, err := s.membershipSvc.ChangePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetMyMembership(c *gin.Context) {
	resp, err := s.membershipSvc.GetMyMembership(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
