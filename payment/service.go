package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"engageflow/apperr"
	"engageflow/contract"
	"engageflow/event"
	"engageflow/logger"
	"engageflow/milestone"
)

const (
	msgRequiresCompleted = "Can only request payment for completed milestones"
	msgApprovePending    = "Only pending payment requests can be approved"
	msgRejectPending     = "Only pending payment requests can be rejected"
	msgProcessApproved   = "Only approved payment requests can be processed"
	msgAlreadyRequested  = "A payment request already exists for this milestone"
)

type Service struct {
	runner          *event.Runner
	repo            Repository
	contracts       contract.Repository
	milestones      milestone.Repository
	defaultCurrency string
	log             logger.Logger
	idGenerator     func() string
	now             func() time.Time
}

func NewService(runner *event.Runner, repo Repository, contracts contract.Repository, milestones milestone.Repository, defaultCurrency string, log logger.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if contracts == nil {
		contracts = contract.NewRepository()
	}
	if milestones == nil {
		milestones = milestone.NewRepository()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		runner:          runner,
		repo:            repo,
		contracts:       contracts,
		milestones:      milestones,
		defaultCurrency: defaultCurrency,
		log:             log,
		idGenerator:     func() string { return uuid.NewString() },
		now:             time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create files a payment request for a completed milestone. A zero amount
// requests the milestone amount.
func (s *Service) Create(ctx context.Context, contractID, milestoneID, freelancerID string, amount decimal.Decimal) (Request, error) {
	if amount.IsNegative() {
		return Request{}, apperr.Validation(Entity, "amount must not be negative")
	}

	var out Request
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		// Milestone before contract, the same order the cascade engine locks in.
		m, err := s.milestones.GetForUpdate(ctx, tx, milestoneID)
		if err != nil {
			return nil, err
		}
		if m.ContractID != contractID {
			return nil, apperr.NotFound(milestone.Entity, milestoneID)
		}
		c, err := s.contracts.GetForUpdate(ctx, tx, contractID)
		if err != nil {
			return nil, err
		}
		if c.FreelancerID != freelancerID {
			return nil, apperr.Unauthorized(Entity, "", "only the contract freelancer may request payment")
		}
		if c.Status != contract.StatusActive {
			return nil, apperr.InvalidState(contract.Entity, c.ID,
				fmt.Sprintf("payment requires an active contract, contract is %s", c.Status))
		}
		if m.Status != milestone.StatusCompleted {
			return nil, apperr.InvalidState(milestone.Entity, m.ID, msgRequiresCompleted)
		}
		exists, err := s.repo.ExistsForMilestone(ctx, tx, m.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apperr.InvalidState(Entity, "", msgAlreadyRequested)
		}

		if amount.IsZero() {
			amount = m.Amount
		}
		currency := c.Currency
		if currency == "" {
			currency = s.defaultCurrency
		}
		now := s.now()
		created, err := s.repo.CreateRequest(ctx, tx, Request{
			ID:           s.idGenerator(),
			ContractID:   c.ID,
			MilestoneID:  m.ID,
			FreelancerID: c.FreelancerID,
			ClientID:     c.ClientID,
			Amount:       amount,
			Currency:     currency,
			Status:       StatusPending,
			RequestedAt:  now,
		})
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.InvalidState(Entity, "", msgAlreadyRequested)
		}
		if err != nil {
			return nil, err
		}
		out = created

		return []event.Event{{
			Type:        event.PaymentRequested,
			AggregateID: created.ID,
			Payload:     requestPayload(created),
			Notices: []event.Notice{{
				UserID:   c.ClientID,
				Kind:     "payment_requested",
				Title:    "Payment requested",
				Message:  fmt.Sprintf("Payment of %s %s requested for milestone %q", created.Amount.StringFixed(2), created.Currency, m.Title),
				Priority: event.PriorityHigh,
				Payload:  map[string]any{"payment_request_id": created.ID, "milestone_id": m.ID},
			}},
			OccurredAt: now,
		}}, nil
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

func (s *Service) Approve(ctx context.Context, requestID, clientID string) (Request, error) {
	return s.decide(ctx, requestID, clientID, StatusApproved, nil, msgApprovePending)
}

func (s *Service) Reject(ctx context.Context, requestID, clientID, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, apperr.Validation(Entity, "rejection reason required")
	}
	return s.decide(ctx, requestID, clientID, StatusRejected, &reason, msgRejectPending)
}

func (s *Service) decide(ctx context.Context, requestID, clientID string, to Status, reason *string, notPending string) (Request, error) {
	var out Request
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		req, err := s.repo.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			return nil, err
		}
		if req.ClientID != clientID {
			return nil, apperr.Unauthorized(Entity, requestID, "only the contract client may decide on a payment request")
		}
		if req.Status != StatusPending {
			return nil, apperr.InvalidState(Entity, requestID, notPending)
		}
		if err := Transition(ctx, req.ID, req.Status, to); err != nil {
			return nil, err
		}
		now := s.now()
		updated, err := s.repo.UpdateStatus(ctx, tx, req.ID, to, now, reason)
		if err != nil {
			return nil, err
		}
		out = updated

		evt := event.Event{
			Type:        event.PaymentApproved,
			AggregateID: updated.ID,
			Payload:     requestPayload(updated),
			Notices: []event.Notice{{
				UserID:   updated.FreelancerID,
				Kind:     "payment_approved",
				Title:    "Payment approved",
				Message:  fmt.Sprintf("Your payment request of %s %s was approved", updated.Amount.StringFixed(2), updated.Currency),
				Priority: event.PriorityHigh,
				Payload:  map[string]any{"payment_request_id": updated.ID},
			}},
			OccurredAt: now,
		}
		if to == StatusRejected {
			evt.Type = event.PaymentRejected
			evt.Payload["reason"] = *reason
			evt.Notices[0].Kind = "payment_rejected"
			evt.Notices[0].Title = "Payment rejected"
			evt.Notices[0].Message = fmt.Sprintf("Your payment request was rejected: %s", *reason)
		}
		return []event.Event{evt}, nil
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

type ProcessResult struct {
	Request     Request
	Transaction Transaction
	Milestone   milestone.Milestone
}

// Process records the transaction for an approved request and marks both the
// request and its milestone paid. It is the only path to a paid milestone.
func (s *Service) Process(ctx context.Context, requestID, method, gatewayTxID string) (ProcessResult, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return ProcessResult{}, apperr.Validation(Entity, "payment method required")
	}

	var out ProcessResult
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		req, err := s.repo.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != StatusApproved {
			return nil, apperr.InvalidState(Entity, requestID, msgProcessApproved)
		}
		if err := Transition(ctx, req.ID, req.Status, StatusPaid); err != nil {
			return nil, err
		}
		m, err := s.milestones.GetForUpdate(ctx, tx, req.MilestoneID)
		if err != nil {
			return nil, err
		}
		if err := milestone.Transition(ctx, m.ID, m.Status, milestone.StatusPaid); err != nil {
			return nil, err
		}

		now := s.now()
		txn, err := s.repo.InsertTransaction(ctx, tx, Transaction{
			ID:                   s.idGenerator(),
			ContractID:           req.ContractID,
			PaymentRequestID:     req.ID,
			Amount:               req.Amount,
			Currency:             req.Currency,
			Status:               TransactionCompleted,
			PaymentMethod:        method,
			GatewayTransactionID: strings.TrimSpace(gatewayTxID),
			CreatedAt:            now,
			CompletedAt:          now,
		})
		if err != nil {
			return nil, err
		}
		paidMilestone, err := s.milestones.UpdateStatus(ctx, tx, m.ID, milestone.StatusPaid, now)
		if err != nil {
			return nil, err
		}
		paid, err := s.repo.UpdateStatus(ctx, tx, req.ID, StatusPaid, now, nil)
		if err != nil {
			return nil, err
		}
		out = ProcessResult{Request: paid, Transaction: txn, Milestone: paidMilestone}

		payload := requestPayload(paid)
		payload["transaction_id"] = txn.ID
		payload["payment_method"] = method
		return []event.Event{{
			Type:        event.PaymentProcessed,
			AggregateID: paid.ID,
			Payload:     payload,
			Notices: []event.Notice{{
				UserID:   paid.FreelancerID,
				Kind:     "payment_processed",
				Title:    "Payment sent",
				Message:  fmt.Sprintf("%s %s was paid for milestone %q", paid.Amount.StringFixed(2), paid.Currency, m.Title),
				Priority: event.PriorityHigh,
				Payload:  map[string]any{"payment_request_id": paid.ID, "transaction_id": txn.ID},
			}},
			OccurredAt: now,
		}}, nil
	})
	if err != nil {
		return ProcessResult{}, err
	}
	return out, nil
}

func requestPayload(r Request) map[string]any {
	return map[string]any{
		"payment_request_id": r.ID,
		"contract_id":        r.ContractID,
		"milestone_id":       r.MilestoneID,
		"amount":             r.Amount.StringFixed(2),
		"currency":           r.Currency,
		"status":             string(r.Status),
	}
}
