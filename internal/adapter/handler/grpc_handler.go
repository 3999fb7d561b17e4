package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
)

const (
	saleServiceName = "pos.v1.SaleService"

	recordSaleMethod = "/" + saleServiceName + "/RecordSale"
	annulSaleMethod  = "/" + saleServiceName + "/AnnulSale"
	listSalesMethod  = "/" + saleServiceName + "/ListSales"
)

type SaleServiceServer interface {
	RecordSale(ctx context.Context, req *SaleRequest) (*domain.Sale, error)
	AnnulSale(ctx context.Context, req *AnnulRequest) (*service.AnnulResult, error)
	ListSales(ctx context.Context, req *ListSalesRequest) (*ListSalesResponse, error)
}

type GRPCHandler struct {
	sales *service.SaleService
}

var _ SaleServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(sales *service.SaleService) *GRPCHandler {
	return &GRPCHandler{sales: sales}
}

func (h *GRPCHandler) RecordSale(ctx context.Context, req *SaleRequest) (*domain.Sale, error) {
	sale, err := h.sales.RecordSale(ctx, req.toService())
	if err != nil {
		return nil, toStatus(err)
	}
	return sale, nil
}

func (h *GRPCHandler) AnnulSale(ctx context.Context, req *AnnulRequest) (*service.AnnulResult, error) {
	res, err := h.sales.AnnulSale(ctx, req.SaleID)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (h *GRPCHandler) ListSales(ctx context.Context, _ *ListSalesRequest) (*ListSalesResponse, error) {
	sales, err := h.sales.ListSales(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListSalesResponse{Sales: sales}, nil
}

func toStatus(err error) error {
	var stockErr *service.InsufficientStockError
	switch {
	case errors.Is(err, service.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &stockErr), errors.Is(err, service.ErrAlreadyAnnulled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrDuplicateRequest), errors.Is(err, service.ErrDuplicateSKU):
		return status.Error(codes.AlreadyExists, err.Error())
	case service.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrSnapshotFormat):
		return status.Error(codes.DataLoss, err.Error())
	case service.IsRetryable(err):
		return status.Error(codes.Unavailable, "storage temporarily unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// RegisterSaleServiceServer attaches srv to s under pos.v1.SaleService.
func RegisterSaleServiceServer(s grpc.ServiceRegistrar, srv SaleServiceServer) {
	s.RegisterService(&saleServiceDesc, srv)
}

var saleServiceDesc = grpc.ServiceDesc{
	ServiceName: saleServiceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordSale", Handler: recordSaleHandler},
		{MethodName: "AnnulSale", Handler: annulSaleHandler},
		{MethodName: "ListSales", Handler: listSalesHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func recordSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SaleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).RecordSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: recordSaleMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).RecordSale(ctx, req.(*SaleRequest))
	})
}

func annulSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AnnulRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).AnnulSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: annulSaleMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).AnnulSale(ctx, req.(*AnnulRequest))
	})
}

func listSalesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListSalesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).ListSales(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listSalesMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).ListSales(ctx, req.(*ListSalesRequest))
	})
}

// UnaryLogger logs every call with its status code.
func UnaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.Internal, codes.DataLoss, codes.Unavailable:
			logger.Error("grpc request", append(fields, zap.Error(err))...)
		default:
			logger.Info("grpc request", fields...)
		}
		return resp, err
	}
}

// SaleServiceClient calls pos.v1.SaleService over the JSON codec.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

func (c *SaleServiceClient) RecordSale(ctx context.Context, in *SaleRequest, opts ...grpc.CallOption) (*domain.Sale, error) {
	out := new(domain.Sale)
	if err := c.cc.Invoke(ctx, recordSaleMethod, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) AnnulSale(ctx context.Context, in *AnnulRequest, opts ...grpc.CallOption) (*service.AnnulResult, error) {
	out := new(service.AnnulResult)
	if err := c.cc.Invoke(ctx, annulSaleMethod, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) ListSales(ctx context.Context, in *ListSalesRequest, opts ...grpc.CallOption) (*ListSalesResponse, error) {
	out := new(ListSalesResponse)
	if err := c.cc.Invoke(ctx, listSalesMethod, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
