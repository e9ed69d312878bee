package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/notify"
	"fulfillment-engine/internal/payment"
	"fulfillment-engine/internal/repository"
	"fulfillment-engine/internal/security"
	"fulfillment-engine/internal/utils"

	"github.com/google/uuid"
)

const (
	defaultPageSize int32 = 20
	maxPageSize     int32 = 100

	defaultNotifyTimeout = 10 * time.Second
)

// Statuses reachable through Advance. Payment, risk and cancellation edges
// have their own operations.
var operationalTargets = map[domain.Status]bool{
	domain.StatusAssigned:          true,
	domain.StatusOutForDelivery:    true,
	domain.StatusActive:            true,
	domain.StatusReturnRequested:   true,
	domain.StatusInspectionPending: true,
	domain.StatusRefundProcessing:  true,
	domain.StatusCompleted:         true,
}

type EngineConfig struct {
	Currency string
	// FallbackPolicy is used when no risk policy is stored.
	FallbackPolicy domain.RiskPolicy
	Clock          func() time.Time
	// NotifyTimeout bounds one batch of notifications sent after a commit.
	NotifyTimeout time.Duration
}

type transactionService struct {
	store    repository.Store
	ledger   InventoryLedger
	gateways *payment.Registry
	notifier notify.Notifier
	hasher   *security.FingerprintHasher
	cfg      EngineConfig
	now      func() time.Time
	log      *slog.Logger
	inflight sync.WaitGroup
}

func newTransactionService(
	store repository.Store,
	ledger InventoryLedger,
	gateways *payment.Registry,
	notifier notify.Notifier,
	hasher *security.FingerprintHasher,
	cfg EngineConfig,
) *transactionService {
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.FallbackPolicy.Version == 0 {
		cfg.FallbackPolicy = domain.DefaultRiskPolicy()
	}
	if hasher == nil {
		hasher = security.NewFingerprintHasher("")
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	return &transactionService{
		store:    store,
		ledger:   ledger,
		gateways: gateways,
		notifier: notifier,
		hasher:   hasher,
		cfg:      cfg,
		now:      now,
		log:      logger.WithService("transaction_engine"),
	}
}

func (s *transactionService) CreateTransaction(ctx context.Context, req CreateRequest) (*domain.Transaction, error) {
	logger.EnterMethod("transactionService.CreateTransaction", "subject_id", req.SubjectID, "kind", req.Kind)

	if err := validateCreate(&req); err != nil {
		logger.ExitMethodWithError("transactionService.CreateTransaction", err)
		return nil, err
	}

	now := s.now()
	t := &domain.Transaction{
		ID:                    uuid.NewString(),
		Kind:                  req.Kind,
		SubjectID:             req.SubjectID,
		StartDate:             req.StartDate,
		EndDate:               req.EndDate,
		Currency:              s.cfg.Currency,
		Status:                domain.StatusPending,
		PaymentStatus:         domain.PaymentStatusPending,
		RiskFactors:           []string{},
		DeviceFingerprintHash: s.hasher.Hash(req.DeviceFingerprint),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.Kind == domain.TransactionKindRental {
		t.RentalDays = utils.RentalDays(*req.StartDate, *req.EndDate)
	}

	var n notices
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		n = nil
		if err := s.price(ctx, tx, t, req.Items); err != nil {
			return err
		}
		if err := tx.Transactions().Create(ctx, t); err != nil {
			return err
		}
		n.add(t, notify.EventCreated)
		return s.audit(ctx, tx, t, "", domain.StatusPending, domain.AuditCodeTransition, req.SubjectID,
			fmt.Sprintf("total %d %s", t.TotalAmount, t.Currency))
	})
	if err != nil {
		logger.ExitMethodWithError("transactionService.CreateTransaction", err)
		return nil, err
	}

	s.deliver(ctx, n)
	logger.ExitMethod("transactionService.CreateTransaction", "transaction_id", t.ID, "total", t.TotalAmount)
	return t, nil
}

func validateCreate(req *CreateRequest) error {
	if req.SubjectID == "" {
		return domain.Validationf("subject is required")
	}
	switch req.Kind {
	case domain.TransactionKindRental:
		if req.StartDate == nil || req.EndDate == nil {
			return domain.Validationf("rental requires start_date and end_date")
		}
		if req.EndDate.Before(*req.StartDate) {
			return domain.Validationf("end_date must not be before start_date")
		}
	case domain.TransactionKindSale:
		req.StartDate, req.EndDate = nil, nil
	default:
		return domain.Validationf("kind must be RENTAL or SALE")
	}
	if len(req.Items) == 0 {
		return domain.Validationf("at least one item is required")
	}
	seen := make(map[string]bool, len(req.Items))
	for _, it := range req.Items {
		if it.ItemID == "" {
			return domain.Validationf("item_id is required")
		}
		if it.Quantity <= 0 {
			return domain.Validationf("quantity for %s must be positive", it.ItemID)
		}
		if seen[it.ItemID] {
			return domain.Validationf("item %s listed twice", it.ItemID)
		}
		seen[it.ItemID] = true
	}
	return nil
}

// price fills line items and amounts from the rate cards. Client amounts are
// never trusted.
func (s *transactionService) price(ctx context.Context, tx repository.Tx, t *domain.Transaction, items []ItemRequest) error {
	t.Items = t.Items[:0]
	t.BaseAmount, t.TaxAmount, t.DepositAmount = 0, 0, 0
	for _, req := range items {
		item, err := tx.Inventory().GetItem(ctx, req.ItemID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Validationf("unknown item %s", req.ItemID)
		}
		if err != nil {
			return err
		}
		if item.Status == domain.ItemStatusRetired {
			return domain.Validationf("item %s is retired", req.ItemID)
		}
		// Current availability is checked when the goods are handed over, so a
		// unit that is rented out today can still be booked for later.
		if item.TotalCount < req.Quantity {
			return domain.InsufficientStock(req.ItemID, req.Quantity, item.TotalCount)
		}
		rate, err := tx.Rates().GetBySKU(ctx, item.SKU)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Validationf("no rate card for %s", item.SKU)
		}
		if err != nil {
			return err
		}
		if !rate.Active {
			return domain.Validationf("sku %s is not offered", item.SKU)
		}
		q, err := utils.QuoteLine(t.Kind, rate, req.Quantity, t.StartDate, t.EndDate)
		if err != nil {
			return domain.Validationf("%v", err)
		}
		t.Items = append(t.Items, domain.LineItem{
			ItemID:    item.ID,
			SKU:       item.SKU,
			Quantity:  req.Quantity,
			UnitPrice: q.UnitPrice,
			LineTotal: q.LineTotal,
		})
		t.BaseAmount += q.LineTotal
		t.TaxAmount += q.Tax
		t.DepositAmount += q.Deposit
	}
	t.TotalAmount = t.BaseAmount + t.TaxAmount + t.DepositAmount
	return nil
}

func (s *transactionService) CreatePaymentIntent(ctx context.Context, caller Caller, txnID string) (*payment.Intent, error) {
	t, err := s.visible(ctx, caller, txnID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.StatusPending {
		return nil, domain.InvalidTransition(t.Status, domain.StatusPaymentProcessing)
	}

	gw := s.gateways.Primary()
	intent, err := gw.CreatePaymentIntent(ctx, t.ID, t.TotalAmount, t.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	_, err = s.mutate(ctx, txnID, caller.SubjectID, domain.StatusPaymentProcessing,
		func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
			if err := s.transition(ctx, tx, t, domain.StatusPaymentProcessing, caller.SubjectID, "intent "+intent.ID, n); err != nil {
				return err
			}
			t.PaymentIntentID = intent.ID
			return nil
		})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *transactionService) Advance(ctx context.Context, caller Caller, txnID string, target domain.Status) (*domain.Transaction, error) {
	logger.EnterMethod("transactionService.Advance", "transaction_id", txnID, "target", target)

	if !operationalTargets[target] {
		return nil, domain.Validationf("status %s cannot be set directly", target)
	}
	if !caller.Privileged && target != domain.StatusReturnRequested {
		return nil, domain.Forbidden("only operators may move a transaction to " + string(target))
	}

	out, err := s.mutate(ctx, txnID, caller.SubjectID, target,
		func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
			if !caller.Privileged && t.SubjectID != caller.SubjectID {
				return domain.NotFound("transaction", txnID)
			}
			return s.transition(ctx, tx, t, target, caller.SubjectID, "", n)
		})

	if errors.Is(err, domain.ErrInsufficientStock) {
		s.cancelOutOfStock(ctx, txnID, err)
	}
	if err != nil {
		logger.ExitMethodWithError("transactionService.Advance", err, "transaction_id", txnID)
		return nil, err
	}
	logger.ExitMethod("transactionService.Advance", "transaction_id", txnID, "status", out.Status)
	return out, nil
}

// cancelOutOfStock makes a stock shortfall visible in a second unit of work
// after the failed activation rolled back.
func (s *transactionService) cancelOutOfStock(ctx context.Context, txnID string, cause error) {
	_, err := s.mutate(ctx, txnID, "system", domain.StatusCancelled,
		func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
			if t.Status.IsTerminal() {
				return nil
			}
			t.CancelReason = domain.CancelReasonOutOfStock
			if err := s.transition(ctx, tx, t, domain.StatusCancelled, "system", cause.Error(), n); err != nil {
				return err
			}
			return s.audit(ctx, tx, t, t.Status, t.Status, string(domain.CodeInsufficientStock), "system", cause.Error())
		})
	if err != nil {
		s.log.Error("Failed to cancel out-of-stock transaction", "transaction_id", txnID, "error", err)
	}
}

func (s *transactionService) Cancel(ctx context.Context, caller Caller, txnID, reason string) (*domain.Transaction, error) {
	return s.mutate(ctx, txnID, caller.SubjectID, domain.StatusCancelled,
		func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
			if !caller.Privileged {
				if t.SubjectID != caller.SubjectID {
					return domain.NotFound("transaction", txnID)
				}
				if !cancellableBySubject(t.Status) {
					return domain.Forbidden("transaction can no longer be cancelled by the customer")
				}
				t.CancelReason = domain.CancelReasonSubject
			} else {
				t.CancelReason = domain.CancelReasonOperator
			}
			return s.transition(ctx, tx, t, domain.StatusCancelled, caller.SubjectID, reason, n)
		})
}

func cancellableBySubject(st domain.Status) bool {
	switch st {
	case domain.StatusPending, domain.StatusPaymentProcessing, domain.StatusPaymentSuccess,
		domain.StatusUnderReview, domain.StatusApproved, domain.StatusAssigned, domain.StatusOutForDelivery:
		return true
	}
	return false
}

func (s *transactionService) Review(ctx context.Context, adminID, txnID string, approve bool, note string) (*domain.Transaction, error) {
	target := domain.StatusApproved
	if !approve {
		target = domain.StatusCancelled
	}
	return s.mutate(ctx, txnID, adminID, target,
		func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
			if t.Status != domain.StatusUnderReview {
				return domain.InvalidTransition(t.Status, target)
			}
			if !approve {
				t.CancelReason = domain.CancelReasonReviewRejected
			}
			return s.transition(ctx, tx, t, target, adminID, "review: "+note, n)
		})
}

func (s *transactionService) ReevaluateRisk(ctx context.Context, adminID, txnID string) (*domain.Transaction, error) {
	return s.mutate(ctx, txnID, adminID, "",
		func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
			if t.Status != domain.StatusPaymentSuccess && t.Status != domain.StatusUnderReview {
				return &domain.Error{
					Code:    domain.CodeInvalidTransition,
					Message: fmt.Sprintf("risk cannot be re-evaluated in status %s", t.Status),
				}
			}
			return s.decide(ctx, tx, t, adminID, n)
		})
}

func (s *transactionService) GetStatus(ctx context.Context, caller Caller, txnID string) (*StatusView, error) {
	t, err := s.visible(ctx, caller, txnID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		TransactionID: t.ID,
		Kind:          t.Kind,
		Status:        t.Status,
		DisplayStatus: t.DisplayStatus(),
		PaymentStatus: t.PaymentStatus,
		RiskDecision:  t.RiskDecision,
		CancelReason:  t.CancelReason,
	}
	if t.RiskDecision != "" {
		score := t.RiskScore
		view.RiskScore = &score
	}
	if caller.Privileged {
		view.RiskFactors = t.RiskFactors
	}
	return view, nil
}

func (s *transactionService) GetTransaction(ctx context.Context, caller Caller, txnID string) (*domain.Transaction, error) {
	t, err := s.visible(ctx, caller, txnID)
	if err != nil {
		return nil, err
	}
	if !caller.Privileged {
		t.RiskFactors = nil
	}
	return t, nil
}

// visible loads a transaction the caller may see. Other subjects' transactions
// are reported as missing.
func (s *transactionService) visible(ctx context.Context, caller Caller, txnID string) (*domain.Transaction, error) {
	t, err := s.store.Transactions().GetByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if !caller.Privileged && t.SubjectID != caller.SubjectID {
		return nil, domain.NotFound("transaction", txnID)
	}
	return t, nil
}

func (s *transactionService) ListTransactions(ctx context.Context, caller Caller, subjectID string, status domain.Status, page, pageSize int32) ([]domain.Transaction, int32, error) {
	if !caller.Privileged || subjectID == "" {
		subjectID = caller.SubjectID
	}
	if status != "" && !status.Valid() {
		return nil, 0, domain.Validationf("unknown status %s", status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	txns, total, err := s.store.Transactions().ListBySubject(ctx, subjectID, status, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if !caller.Privileged {
		for i := range txns {
			txns[i].RiskFactors = nil
		}
	}
	return txns, total, nil
}

func (s *transactionService) History(ctx context.Context, txnID string) ([]domain.AuditEntry, error) {
	if _, err := s.store.Transactions().GetByID(ctx, txnID); err != nil {
		return nil, err
	}
	return s.store.Transactions().ListAudit(ctx, txnID)
}

// MarkRefunded settles a flagged refund. It is a no-op when nothing is owed.
func (s *transactionService) MarkRefunded(ctx context.Context, txnID, refundID string) (*domain.Transaction, error) {
	return s.mutate(ctx, txnID, "system", "",
		func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
			return s.settleRefund(ctx, tx, t, "system", "refund "+refundID, n)
		})
}

func (s *transactionService) settleRefund(ctx context.Context, tx repository.Tx, t *domain.Transaction, actor, note string, n *notices) error {
	if t.PaymentStatus != domain.PaymentStatusSuccess {
		return nil
	}
	t.PaymentStatus = domain.PaymentStatusRefunded
	t.RefundRequired = false
	n.add(t, notify.EventRefunded)
	return s.audit(ctx, tx, t, t.Status, t.Status, domain.AuditCodeRefund, actor, note)
}

func (s *transactionService) ListRefundDue(ctx context.Context, limit int32) ([]domain.Transaction, error) {
	return s.store.Transactions().ListRefundDue(ctx, limit)
}

// CancelStale cancels transactions stuck in PAYMENT_PROCESSING for longer
// than olderThan and reports how many were cancelled.
func (s *transactionService) CancelStale(ctx context.Context, olderThan time.Duration, limit int32) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.store.Transactions().ListStale(ctx, domain.StatusPaymentProcessing, cutoff, limit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, candidate := range stale {
		changed := false
		_, err := s.mutate(ctx, candidate.ID, "system", domain.StatusCancelled,
			func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error {
				if t.Status != domain.StatusPaymentProcessing {
					return nil
				}
				changed = true
				t.CancelReason = domain.CancelReasonPaymentTimeout
				return s.transition(ctx, tx, t, domain.StatusCancelled, "system", "payment window expired", n)
			})
		if err != nil {
			s.log.Error("Failed to cancel stale transaction", "transaction_id", candidate.ID, "error", err)
			continue
		}
		if changed {
			cancelled++
		}
	}
	return cancelled, nil
}

// mutate runs fn on the locked transaction in one unit of work and persists
// it. Refused transitions are audited in a separate unit; notifications go
// out only after commit.
func (s *transactionService) mutate(ctx context.Context, txnID, actor string, attempted domain.Status,
	fn func(ctx context.Context, tx repository.Tx, t *domain.Transaction, n *notices) error,
) (*domain.Transaction, error) {
	var out *domain.Transaction
	var n notices
	var current domain.Status

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		n = nil
		t, err := tx.Transactions().GetForUpdate(ctx, txnID)
		if err != nil {
			return err
		}
		current = t.Status
		if err := fn(ctx, tx, t, &n); err != nil {
			return err
		}
		if err := tx.Transactions().Update(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		s.recordRefusal(ctx, txnID, current, attempted, actor, err)
		return nil, err
	}
	s.deliver(ctx, n)
	return out, nil
}

func (s *transactionService) recordRefusal(ctx context.Context, txnID string, from, to domain.Status, actor string, cause error) {
	code := domain.CodeOf(cause)
	if from == "" || (code != domain.CodeInvalidTransition && code != domain.CodeForbidden) {
		return
	}
	logger.WarnContext(ctx, "Transition refused", "transaction_id", txnID, "from", from, "to", to, "actor", actor, "code", code)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Transactions().AppendAudit(ctx, &domain.AuditEntry{
			ID:            uuid.NewString(),
			TransactionID: txnID,
			FromStatus:    from,
			ToStatus:      to,
			Code:          string(code),
			Note:          cause.Error(),
			Actor:         actor,
			CreatedAt:     s.now(),
		})
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to audit refused transition", "transaction_id", txnID, "error", err)
	}
}

// transition moves t to target with its stock side effects and audit entry.
// It must run inside the unit of work holding t's lock.
func (s *transactionService) transition(ctx context.Context, tx repository.Tx, t *domain.Transaction, target domain.Status, actor, note string, n *notices) error {
	from := t.Status
	if err := domain.ValidateTransition(t.Kind, from, target); err != nil {
		return err
	}

	if target == domain.StatusActive {
		if t.PaymentStatus != domain.PaymentStatusSuccess {
			return domain.InvalidTransition(from, target)
		}
		if err := s.activateStock(ctx, tx, t); err != nil {
			return err
		}
	}

	if target.IsTerminal() && t.StockHeld {
		// A delivered sale keeps its deduction; everything else goes back on the shelf.
		if !(t.Kind == domain.TransactionKindSale && target == domain.StatusCompleted) {
			if err := s.ledger.RestoreTransaction(ctx, tx, t.ID); err != nil {
				return fmt.Errorf("failed to restore stock: %w", err)
			}
		}
		t.StockHeld = false
	}

	t.Status = target
	if target == domain.StatusCancelled && t.PaymentStatus == domain.PaymentStatusSuccess {
		t.RefundRequired = true
		n.add(t, notify.EventRefundRequired)
	}
	n.add(t, noticeFor(t))
	logger.Audit(ctx, "transition", "transaction_id", t.ID, "from", string(from), "to", string(target), "actor", actor,
		"cancel_reason", t.CancelReason)
	return s.audit(ctx, tx, t, from, target, domain.AuditCodeTransition, actor, note)
}

// activateStock reserves and deducts every line item. Items are taken in id
// order so concurrent activations lock rows in the same order.
func (s *transactionService) activateStock(ctx context.Context, tx repository.Tx, t *domain.Transaction) error {
	lines := append([]domain.LineItem(nil), t.Items...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })
	for _, line := range lines {
		res, err := s.ledger.Reserve(ctx, tx, t.ID, line.ItemID, line.Quantity)
		if err != nil {
			return err
		}
		if err := s.ledger.CommitDeduction(ctx, tx, res.ID); err != nil {
			return err
		}
	}
	t.StockHeld = true
	return nil
}

func noticeFor(t *domain.Transaction) notify.EventKind {
	switch t.Status {
	case domain.StatusPaymentProcessing:
		return notify.EventPaymentStarted
	case domain.StatusPaymentSuccess:
		return notify.EventPaid
	case domain.StatusApproved:
		return notify.EventApproved
	case domain.StatusUnderReview:
		return notify.EventUnderReview
	case domain.StatusCancelled:
		if t.CancelReason == domain.CancelReasonOutOfStock {
			return notify.EventOutOfStock
		}
		return notify.EventCancelled
	default:
		return notify.EventStatusChanged
	}
}

func (s *transactionService) audit(ctx context.Context, tx repository.Tx, t *domain.Transaction, from, to domain.Status, code, actor, note string) error {
	entry := &domain.AuditEntry{
		ID:            uuid.NewString(),
		TransactionID: t.ID,
		FromStatus:    from,
		ToStatus:      to,
		Code:          code,
		Note:          note,
		Actor:         actor,
		CreatedAt:     s.now(),
	}
	if err := tx.Transactions().AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

type notice struct {
	subjectID string
	kind      notify.EventKind
	payload   map[string]string
}

type notices []notice

func (n *notices) add(t *domain.Transaction, kind notify.EventKind) {
	payload := map[string]string{
		"transaction_id": t.ID,
		"kind":           string(t.Kind),
		"status":         string(t.Status),
		"display_status": t.DisplayStatus(),
		"payment_status": string(t.PaymentStatus),
	}
	if t.CancelReason != "" {
		payload["cancel_reason"] = t.CancelReason
	}
	*n = append(*n, notice{subjectID: t.SubjectID, kind: kind, payload: payload})
}

// deliver sends n in the background, in order, once the caller's commit
// is done. The caller's cancellation does not stop it; NotifyTimeout does.
func (s *transactionService) deliver(ctx context.Context, n notices) {
	if s.notifier == nil || len(n) == 0 {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		for _, item := range n {
			if err := s.notifier.Notify(dctx, item.subjectID, item.kind, item.payload); err != nil {
				logger.WarnContext(dctx, "Notification failed", "subject_id", item.subjectID, "kind", item.kind, "error", err)
			}
		}
	}()
}

// waitNotifications blocks until every delivery started so far has finished.
func (s *transactionService) waitNotifications() {
	s.inflight.Wait()
}
