package grpcsvc

import (
	"context"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

const (
	PaymentServiceName = "oms.v1.PaymentService"

	paymentMethodAuthorize  = "/oms.v1.PaymentService/Authorize"
	paymentMethodGetPayment = "/oms.v1.PaymentService/GetPayment"
)

// PaymentServiceServer: серверный контракт платёжного сервиса.
type PaymentServiceServer interface {
	Authorize(context.Context, *AuthorizeRequest) (*AuthorizeResponse, error)
	GetPayment(context.Context, *GetPaymentRequest) (*Payment, error)
}

var PaymentServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authorize", Handler: unary(paymentMethodAuthorize, PaymentServiceServer.Authorize)},
		{MethodName: "GetPayment", Handler: unary(paymentMethodGetPayment, PaymentServiceServer.GetPayment)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oms/v1/payment",
}

func RegisterPaymentServiceServer(s grpc.ServiceRegistrar, srv PaymentServiceServer) {
	s.RegisterService(&PaymentServiceDesc, srv)
}

// Authorizer: то, что платёжному серверу нужно от авторизатора.
type Authorizer interface {
	domain.PaymentService
	Get(ctx context.Context, paymentID string) (domain.Payment, error)
}

// PaymentService отдаёт авторизатор по gRPC.
type PaymentService struct {
	authorizer Authorizer
	logger     *log.Entry
}

func NewPaymentService(authorizer Authorizer, logger *log.Entry) *PaymentService {
	if logger == nil {
		logger = log.New().WithField("component", "payment-grpc")
	}
	return &PaymentService{authorizer: authorizer, logger: logger}
}

// Authorize возвращает решение; отказ возвращается успешным ответом с authorized=false.
func (s *PaymentService) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	decision, err := s.authorizer.Authorize(ctx, req.OrderReference, req.Amount, req.Currency)
	if err != nil {
		st := toStatus(err, "failed to authorize payment")
		if status.Code(st) == codes.Internal {
			s.logger.WithError(err).WithField("order_reference", req.OrderReference).Error("authorize failed")
		}
		return nil, st
	}
	return &AuthorizeResponse{PaymentID: decision.PaymentID, Authorized: decision.Authorized}, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, req *GetPaymentRequest) (*Payment, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	payment, err := s.authorizer.Get(ctx, req.PaymentID)
	if err != nil {
		return nil, toStatus(err, "failed to load payment")
	}
	return toPayment(payment), nil
}

var _ PaymentServiceServer = (*PaymentService)(nil)
