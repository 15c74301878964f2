package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/doc-translator/internal/common"
)

// Metadata keys read from incoming calls.
const (
	MetadataUserID    = "x-user-id"
	MetadataRequestID = "x-request-id"
)

// UnaryInterceptor attaches the caller principal, a request id and a
// request-scoped logger to the context, logs each call and converts
// application errors into gRPC statuses.
func UnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)

		reqID := first(md, MetadataRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataRequestID, reqID))

		reqLogger := logger.With("request_id", reqID, "method", info.FullMethod)
		ctx = common.WithRequestID(ctx, reqID)
		ctx = common.WithLogger(ctx, reqLogger)
		if user := first(md, MetadataUserID); user != "" {
			ctx = common.WithPrincipal(ctx, common.Principal{UserID: user})
		}

		resp, err := handler(ctx, req)
		appCode := common.ErrorCode(err)
		err = common.ToStatus(err)

		attrs := []any{"code", status.Code(err).String(), "elapsed", time.Since(start)}
		if err != nil {
			attrs = append(attrs, "error", err)
			if appCode != "" {
				attrs = append(attrs, "app_code", appCode)
			}
			reqLogger.Warn("grpc.call", attrs...)
			return nil, err
		}
		reqLogger.Info("grpc.call", attrs...)
		return resp, nil
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
