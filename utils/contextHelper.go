package utils

import (
	"context"

	"github.com/mmdatafocus/restaurant_backend/appctx"
)

var (
	ContextKeyTenantId      = appctx.ContextKeyTenantId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyPaymentId     = appctx.ContextKeyPaymentId
	ContextKeyOperator      = appctx.ContextKeyOperator

	ContextKeySkipTenantScope = appctx.ContextKeySkipTenantScope
)

func GetTenantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTenantId)
}

func SetTenantIdInContext(ctx context.Context, tenantId string) context.Context {
	return appctx.Set(ctx, ContextKeyTenantId, tenantId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetPaymentIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyPaymentId)
}

func SetPaymentIdInContext(ctx context.Context, paymentId string) context.Context {
	return appctx.Set(ctx, ContextKeyPaymentId, paymentId)
}

func GetOperatorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyOperator)
}

func SetOperatorInContext(ctx context.Context, operator string) context.Context {
	return appctx.Set(ctx, ContextKeyOperator, operator)
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipTenantScope, skip)
}
