package orders

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/payments"
)

const (
	DefaultSizeID             int64 = 7
	DefaultCancellationWindow       = 24 * time.Hour
	defaultCurrency                 = "ARS"
	// every order goes through the online provider
	paymentMethodOnline int64 = 1
)

// Deps wires a Service. Store is required; the rest falls back to defaults.
type Deps struct {
	Store              Store
	Provider           payments.Provider
	Events             Publisher
	Logger             *zap.Logger
	Clock              func() time.Time
	DefaultSizeID      int64
	CancellationWindow time.Duration
	Currency           string
	ServiceName        string
}

// Service hosts the order workflows.
type Service struct {
	store       Store
	provider    payments.Provider
	events      Publisher
	logger      *zap.Logger
	now         func() time.Time
	sizeID      int64
	window      time.Duration
	currency    string
	serviceName string
}

func NewService(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("orders: store is required")
	}
	s := &Service{
		store:       deps.Store,
		provider:    deps.Provider,
		events:      deps.Events,
		logger:      deps.Logger,
		now:         deps.Clock,
		sizeID:      deps.DefaultSizeID,
		window:      deps.CancellationWindow,
		currency:    deps.Currency,
		serviceName: deps.ServiceName,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sizeID <= 0 {
		s.sizeID = DefaultSizeID
	}
	if s.window <= 0 {
		s.window = DefaultCancellationWindow
	}
	if s.currency == "" {
		s.currency = defaultCurrency
	}
	if s.serviceName == "" {
		s.serviceName = "order-api"
	}
	return s, nil
}

func (s *Service) sizeOrDefault(sizeID int64) int64 {
	if sizeID <= 0 {
		return s.sizeID
	}
	return sizeID
}
