package handler

import (
	"github.com/escribano/mapcache/internal/service"
	"github.com/escribano/mapcache/pkg/logger"
)

type Handler struct {
	service *service.Service
	logger  logger.Logger
}

func NewHandler(svc *service.Service, l logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  l,
	}
}
