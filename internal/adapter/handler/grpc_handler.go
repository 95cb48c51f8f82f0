package handler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

const (
	BookingServiceName = "booking.v1.BookingService"
	roleMetadataKey    = "x-requester-role"
)

// BookingServiceServer is the gRPC surface of the booking API.
type BookingServiceServer interface {
	CreateBooking(ctx context.Context, req *CreateBookingRequest) (*domain.BookingRecord, error)
	CancelBooking(ctx context.Context, req *CancelBookingRequest) (*domain.BookingRecord, error)
	GetBooking(ctx context.Context, req *GetBookingRequest) (*domain.BookingRecord, error)
	ListBookings(ctx context.Context, req *ListBookingsRequest) (*ListBookingsResponse, error)
}

type GRPCHandler struct {
	reservations  Reservations
	cancellations Cancellations
}

func NewGRPCHandler(reservations Reservations, cancellations Cancellations) *GRPCHandler {
	return &GRPCHandler{reservations: reservations, cancellations: cancellations}
}

// Register adds the booking service to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&bookingServiceDesc, h)
}

func (h *GRPCHandler) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*domain.BookingRecord, error) {
	in, err := req.toDomain()
	if err != nil {
		return nil, grpcError(err)
	}
	rec, err := h.reservations.Reserve(ctx, in)
	if err != nil {
		return nil, grpcError(err)
	}
	return rec, nil
}

func (h *GRPCHandler) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*domain.BookingRecord, error) {
	rec, err := h.cancellations.Cancel(ctx, req.BookingID, req.RequesterID, elevatedFromMetadata(ctx), req.Reason)
	if err != nil {
		return nil, grpcError(err)
	}
	return rec, nil
}

func (h *GRPCHandler) GetBooking(ctx context.Context, req *GetBookingRequest) (*domain.BookingRecord, error) {
	rec, err := h.reservations.Get(ctx, req.BookingID)
	if err != nil {
		return nil, grpcError(err)
	}
	return rec, nil
}

func (h *GRPCHandler) ListBookings(ctx context.Context, req *ListBookingsRequest) (*ListBookingsResponse, error) {
	list, err := h.reservations.ListByRequester(ctx, req.RequesterID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListBookingsResponse{Bookings: list}, nil
}

func elevatedFromMetadata(ctx context.Context) bool {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	for _, role := range md.Get(roleMetadataKey) {
		if role == elevatedRole {
			return true
		}
	}
	return false
}

func grpcError(err error) error {
	kind := classifyError(err)
	_, body := errorResponse(err)
	return status.Error(kind.grpcCode, body.Message)
}

// UnaryLogger logs every unary call with its status code.
func UnaryLogger(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start),
		})
		if err != nil {
			entry.WithError(err).Warn("grpc call failed")
		} else {
			entry.Info("grpc call processed")
		}
		return resp, err
	}
}

func unaryHandler[Req any, Resp any](method string, call func(BookingServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + BookingServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingServiceServer), ctx, req.(*Req))
			})
		},
	}
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: BookingServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateBooking", BookingServiceServer.CreateBooking),
		unaryHandler("CancelBooking", BookingServiceServer.CancelBooking),
		unaryHandler("GetBooking", BookingServiceServer.GetBooking),
		unaryHandler("ListBookings", BookingServiceServer.ListBookings),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "booking/v1/booking.proto",
}
