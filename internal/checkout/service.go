package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/coupons"
	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/internal/payments"
	"github.com/learnhub/backend/pkg/metrics"
	"github.com/learnhub/backend/pkg/utils"
)

// Checkout errors.
var (
	ErrInvalidRequest    = errors.New("invalid checkout request")
	ErrCourseUnavailable = errors.New("one or more courses unavailable")
	ErrAlreadyEnrolled   = errors.New("already enrolled in a requested course")
)

// Catalog loads purchasable courses.
type Catalog interface {
	GetPublishedByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Course, error)
}

// EnrollmentChecker reports existing course access.
type EnrollmentChecker interface {
	HasActive(ctx context.Context, userID, courseID uuid.UUID) (bool, error)
}

// CouponEvaluator validates and prices a coupon against the cart.
type CouponEvaluator interface {
	Evaluate(ctx context.Context, code string, userID uuid.UUID, courseIDs []uuid.UUID, subtotal float64) (*coupons.Result, error)
}

// Persister writes the pending payment and, when a coupon applies, its usage
// row in one transaction. A uniqueness violation on the usage surfaces as
// coupons.ErrCouponAlreadyUsed and nothing is written. CancelCheckout backs
// the write out again when a later step fails.
type Persister interface {
	PersistCheckout(ctx context.Context, p *models.Payment, usage *models.CouponUsage) error
	CancelCheckout(ctx context.Context, paymentID uuid.UUID) error
}

// SessionWriter stores the checkout session.
type SessionWriter interface {
	Put(ctx context.Context, orderID string, sess *payments.Session) error
}

// Users resolves the buyer for provider customer fields.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Registry resolves gateways by name.
type Registry interface {
	Get(name string) (gateway.Gateway, error)
	Supported(name string) bool
}

// InitiateRequest is a validated checkout request.
type InitiateRequest struct {
	UserID         uuid.UUID
	CourseIDs      []uuid.UUID
	Gateway        string
	CouponCode     string
	BillingAddress *models.BillingAddress
}

// Breakdown is the computed financial breakdown returned to the client.
type Breakdown struct {
	Subtotal   float64 `json:"subtotal"`
	Discount   float64 `json:"discount"`
	Tax        float64 `json:"tax"`
	Total      float64 `json:"total"`
	Currency   string  `json:"currency"`
	CouponCode string  `json:"coupon_code,omitempty"`
}

// Result is a successful checkout initiation.
type Result struct {
	OrderID   string         `json:"order_id"`
	PaymentID uuid.UUID      `json:"payment_id"`
	Order     *gateway.Order `json:"order"`
	Breakdown Breakdown      `json:"breakdown"`
}

// Config carries the checkout pricing and callback settings.
type Config struct {
	Currency       string
	TaxRatePercent float64
	CallbackBase   string
}

// Service orchestrates checkout initiation: course validation, pricing,
// provider order creation and the transactional payment write.
type Service struct {
	catalog     Catalog
	enrollments EnrollmentChecker
	evaluator   CouponEvaluator
	persister   Persister
	sessions    SessionWriter
	users       Users
	registry    Registry
	cfg         Config
	logger      *zap.Logger
}

// NewService creates a checkout service.
func NewService(catalog Catalog, enrollments EnrollmentChecker, evaluator CouponEvaluator,
	persister Persister, sessions SessionWriter, users Users, registry Registry,
	cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog:     catalog,
		enrollments: enrollments,
		evaluator:   evaluator,
		persister:   persister,
		sessions:    sessions,
		users:       users,
		registry:    registry,
		cfg:         cfg,
		logger:      logger,
	}
}

// Initiate runs the checkout flow. If the provider call fails, nothing is
// persisted; if the transactional write fails, no coupon usage survives.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	metrics.CheckoutsInitiatedTotal.Inc()

	if len(req.CourseIDs) == 0 {
		metrics.CheckoutsRejectedTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: empty course list", ErrInvalidRequest)
	}
	if !s.registry.Supported(req.Gateway) {
		metrics.CheckoutsRejectedTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownGateway, req.Gateway)
	}

	unique := dedupe(req.CourseIDs)
	courseList, err := s.catalog.GetPublishedByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	// Set-based comparison: missing and unpublished courses alike shrink the
	// returned set.
	if len(courseList) != len(unique) {
		metrics.CheckoutsRejectedTotal.WithLabelValues("course_unavailable").Inc()
		return nil, ErrCourseUnavailable
	}

	for _, course := range courseList {
		enrolled, err := s.enrollments.HasActive(ctx, req.UserID, course.ID)
		if err != nil {
			return nil, err
		}
		if enrolled {
			metrics.CheckoutsRejectedTotal.WithLabelValues("already_enrolled").Inc()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, course.Title)
		}
	}

	subtotal := 0.0
	items := make([]models.OrderItem, 0, len(courseList))
	for _, course := range courseList {
		price := course.EffectivePrice()
		subtotal += price
		items = append(items, models.OrderItem{
			CourseID:       course.ID,
			Title:          course.Title,
			ListPrice:      course.Price,
			EffectivePrice: price,
		})
	}
	subtotal = utils.Round2(subtotal)

	var (
		coupon   *models.Coupon
		discount float64
	)
	if req.CouponCode != "" {
		res, err := s.evaluator.Evaluate(ctx, req.CouponCode, req.UserID, unique, subtotal)
		if err != nil {
			metrics.CheckoutsRejectedTotal.WithLabelValues("coupon").Inc()
			return nil, err
		}
		coupon = res.Coupon
		discount = res.DiscountAmount
	}

	taxable := utils.Round2(subtotal - discount)
	tax := utils.Round2(taxable * s.cfg.TaxRatePercent / 100)
	total := utils.Round2(taxable + tax)

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	orderID := payments.NewOrderID()
	gw, err := s.registry.Get(req.Gateway)
	if err != nil {
		return nil, err
	}
	order, err := gw.CreateOrder(ctx, gateway.OrderRequest{
		OrderID:       orderID,
		Amount:        total,
		Currency:      s.cfg.Currency,
		CustomerID:    req.UserID.String(),
		CustomerName:  user.FullName,
		CustomerEmail: user.Email,
		Description:   orderDescription(items),
		ReturnURL:     s.cfg.CallbackBase + "/" + req.Gateway + "?order_id=" + orderID,
		NotifyURL:     s.cfg.CallbackBase + "/" + req.Gateway + "?order_id=" + orderID,
	})
	if err != nil {
		metrics.CheckoutsRejectedTotal.WithLabelValues("gateway").Inc()
		return nil, err
	}

	pay := &models.Payment{
		UserID:          req.UserID,
		OrderID:         orderID,
		Gateway:         req.Gateway,
		GatewayOrderID:  order.ExternalID,
		Currency:        s.cfg.Currency,
		Amount:          total,
		OriginalAmount:  subtotal,
		DiscountAmount:  discount,
		Tax:             tax,
		OrderItems:      items,
		BillingAddress:  req.BillingAddress,
		GatewayResponse: order.Raw,
	}
	var usage *models.CouponUsage
	if coupon != nil {
		pay.CouponCode = coupon.Code
		usage = &models.CouponUsage{
			CouponID:       coupon.ID,
			UserID:         req.UserID,
			DiscountAmount: discount,
		}
	}
	if err := s.persister.PersistCheckout(ctx, pay, usage); err != nil {
		if errors.Is(err, coupons.ErrCouponAlreadyUsed) {
			metrics.CheckoutsRejectedTotal.WithLabelValues("coupon").Inc()
		}
		return nil, err
	}

	if err := s.sessions.Put(ctx, orderID, &payments.Session{
		PaymentID:      pay.ID,
		GatewayOrderID: order.ExternalID,
		UserID:         req.UserID,
		CourseIDs:      unique,
		FinalAmount:    total,
	}); err != nil {
		s.logger.Error("store checkout session failed",
			zap.Error(err), zap.String("order_id", orderID))
		// Without a session the order can never be verified, so back the
		// payment and any coupon usage out instead of stranding them.
		if cerr := s.persister.CancelCheckout(ctx, pay.ID); cerr != nil {
			s.logger.Error("cancel checkout after session failure",
				zap.Error(cerr), zap.String("payment_id", pay.ID.String()))
		}
		return nil, err
	}

	s.logger.Info("checkout initiated",
		zap.String("order_id", orderID),
		zap.String("payment_id", pay.ID.String()),
		zap.String("gateway", req.Gateway),
		zap.Float64("total", total))

	return &Result{
		OrderID:   orderID,
		PaymentID: pay.ID,
		Order:     order,
		Breakdown: Breakdown{
			Subtotal:   subtotal,
			Discount:   discount,
			Tax:        tax,
			Total:      total,
			Currency:   s.cfg.Currency,
			CouponCode: pay.CouponCode,
		},
	}, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func orderDescription(items []models.OrderItem) string {
	if len(items) == 1 {
		return items[0].Title
	}
	return fmt.Sprintf("%s and %d more", items[0].Title, len(items)-1)
}
