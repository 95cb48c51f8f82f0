package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

func startGRPC(t *testing.T) *grpc.ClientConn {
	t.Helper()
	svc := newTestServices(t)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(quietLogger())))
	NewGRPCHandler(svc.reserve, svc.cancel).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func method(name string) string {
	return "/" + BookingServiceName + "/" + name
}

func TestGRPC_BookingLifecycle(t *testing.T) {
	conn := startGRPC(t)
	ctx := context.Background()

	req := bookingBody("user-1", 2)
	var created domain.BookingRecord
	require.NoError(t, conn.Invoke(ctx, method("CreateBooking"), &req, &created))
	assert.Equal(t, domain.BookingStatusConfirmed, created.Status)

	var fetched domain.BookingRecord
	require.NoError(t, conn.Invoke(ctx, method("GetBooking"), &GetBookingRequest{BookingID: created.ID}, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	var list ListBookingsResponse
	require.NoError(t, conn.Invoke(ctx, method("ListBookings"), &ListBookingsRequest{RequesterID: "user-1"}, &list))
	assert.Len(t, list.Bookings, 1)

	var cancelled domain.BookingRecord
	err := conn.Invoke(ctx, method("CancelBooking"), &CancelBookingRequest{BookingID: created.ID, RequesterID: "user-2"}, &cancelled)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	adminCtx := metadata.AppendToOutgoingContext(ctx, roleMetadataKey, "admin")
	require.NoError(t, conn.Invoke(adminCtx, method("CancelBooking"), &CancelBookingRequest{BookingID: created.ID}, &cancelled))
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	conn := startGRPC(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		req    any
		want   codes.Code
	}{
		{"insufficient", "CreateBooking", bookingBody("user-1", 9), codes.FailedPrecondition},
		{"validation", "CreateBooking", bookingBody("", 1), codes.InvalidArgument},
		{"not found", "GetBooking", &GetBookingRequest{BookingID: "missing"}, codes.NotFound},
		{"empty requester", "ListBookings", &ListBookingsRequest{}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out domain.BookingRecord
			err := conn.Invoke(ctx, method(tt.method), tt.req, &out)
			assert.Equal(t, tt.want, status.Code(err), "got %v", err)
		})
	}
}
