package workflow

import (
	"context"

	"github.com/mmdatafocus/restaurant_backend/config"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/sirupsen/logrus"
)

func loggerOr(l *logrus.Logger) *logrus.Logger {
	if l != nil {
		return l
	}
	return config.GetLogger()
}

// contextFields carries the request-scoped ids into a log entry.
func contextFields(ctx context.Context, field string) logrus.Fields {
	fields := logrus.Fields{"field": field}
	if v, ok := utils.GetTenantIdFromContext(ctx); ok && v != "" {
		fields["tenant_id"] = v
	}
	if v, ok := utils.GetPaymentIdFromContext(ctx); ok && v != "" {
		fields["payment_id"] = v
	}
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
		fields["correlation_id"] = v
	}
	if v, ok := utils.GetOperatorFromContext(ctx); ok && v != "" {
		fields["operator"] = v
	}
	return fields
}
