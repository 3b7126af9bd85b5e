package repository

import (
	"net/http"

	"go.trai.ch/apkforge/internal/core/ports"
)

func NewResolverWithClient(logger ports.Logger, client *http.Client) *Resolver {
	return newResolverWithClient(logger, client)
}

var IsExactVersion = isExactVersion
