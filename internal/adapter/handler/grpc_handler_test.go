package handler

import (
	"context"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newGRPCClient(t *testing.T, env *testEnv) *SaleServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLogger(zaptest.NewLogger(t))))
	RegisterSaleServiceServer(srv, NewGRPCHandler(env.sales))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewSaleServiceClient(conn)
}

func grpcSale(productID string, qty int) *SaleRequest {
	return &SaleRequest{
		Customer: CustomerRequest{Name: "Lucia"},
		Items: []SaleItemRequest{
			{ProductID: productID, Name: "Blusa", Quantity: qty, UnitPrice: decimal.RequireFromString("12.5")},
		},
		OperatorID: "op-1",
	}
}

func TestGRPC_RecordAndAnnul(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)
	ctx := context.Background()
	p := env.seedProduct(t, "BLU-1", 4)

	sale, err := client.RecordSale(ctx, grpcSale(p.ID, 2))
	require.NoError(t, err)
	assert.Equal(t, "AS1", sale.Code)
	assert.True(t, sale.Total.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 2, env.stock(t, p.ID))

	list, err := client.ListSales(ctx, &ListSalesRequest{})
	require.NoError(t, err)
	require.Len(t, list.Sales, 1)
	assert.Equal(t, sale.ID, list.Sales[0].ID)

	res, err := client.AnnulSale(ctx, &AnnulRequest{SaleID: sale.Code})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RestoredCount)
	assert.Equal(t, 4, env.stock(t, p.ID))

	_, err = client.AnnulSale(ctx, &AnnulRequest{SaleID: sale.Code})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGRPC_ErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)
	ctx := context.Background()
	p := env.seedProduct(t, "BLU-1", 1)

	_, err := client.RecordSale(ctx, grpcSale(p.ID, 5))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "Blusa")

	_, err = client.RecordSale(ctx, grpcSale(p.ID, 0))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.AnnulSale(ctx, &AnnulRequest{SaleID: "AS404"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.db.Exec(`DROP TABLE sales`)
	require.NoError(t, err)
	_, err = client.ListSales(ctx, &ListSalesRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
