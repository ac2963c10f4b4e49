package api

import (
	"context"
	"errors"
	"net/http"

	"catalogsync/internal/dto/req"
	"catalogsync/internal/dto/resp"
	"catalogsync/internal/model"
	"catalogsync/internal/service"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProductProvider interface {
	Get(ctx context.Context, identifier string) (*model.Product, error)
	Upsert(ctx context.Context, identifier string, r req.ProductReq) (*model.Product, bool, error)
	Delete(ctx context.Context, identifier string) error
}

type ProductHandler struct {
	service ProductProvider
}

func NewProductHandler(service ProductProvider) *ProductHandler {
	return &ProductHandler{service: service}
}

func toProductResp(p *model.Product, created bool) resp.ProductResp {
	return resp.ProductResp{
		ID:          p.ID,
		Identifier:  p.Identifier,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
		Created:     created,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (h *ProductHandler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		writeProductError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResp(p, false))
}

func (h *ProductHandler) Upsert(c *gin.Context) {
	var r req.ProductReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	p, created, err := h.service.Upsert(c.Request.Context(), c.Param("identifier"), r)
	if err != nil {
		writeProductError(c, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, toProductResp(p, created))
}

func (h *ProductHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("identifier")); err != nil {
		writeProductError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeProductError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("product request failed", zap.String("identifier", c.Param("identifier")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
