package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/osvaldoandrade/gdtrelay/internal/services"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

type getInspectionController struct{ svc services.InspectionService }

func NewGetInspectionController(svc services.InspectionService) *getInspectionController {
	return &getInspectionController{svc: svc}
}

func (h *getInspectionController) Handle(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.svc.Get(c.Request.Context(), id)
	if errors.Is(err, persistence.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "inspection not found", "inspection_id": id})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type listInspectionsController struct{ svc services.InspectionService }

func NewListInspectionsController(svc services.InspectionService) *listInspectionsController {
	return &listInspectionsController{svc: svc}
}

func (h *listInspectionsController) Handle(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	recs, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inspections": recs, "count": len(recs)})
}
