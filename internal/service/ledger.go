package service

import (
	"context"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/events"
)

func (s *Service) CustomerLedger(ctx context.Context, customerID string) ([]domain.LedgerEntry, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetCustomer(ctx, ownerID, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListLedger(ctx, ownerID, customerID)
}

// Reconcile replays the customer's ledger and compares the result with the
// stored running totals. With apply set, drifted totals are overwritten by
// the replayed ones.
func (s *Service) Reconcile(ctx context.Context, customerID string, apply bool) (domain.ReconcileReport, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	release, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	defer release()

	customer, err := s.repo.GetCustomer(ctx, ownerID, customerID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	entries, err := s.repo.ListLedger(ctx, ownerID, customerID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	report := domain.ReconcileReport{
		CustomerID: customerID,
		Entries:    len(entries),
		Stored:     billing.BalancesOf(*customer),
		Replayed:   billing.Replay(entries),
	}
	report.Drift = !billing.SameBalances(report.Stored, report.Replayed)
	if !report.Drift || !apply {
		return report, nil
	}

	_, err = s.repo.MutateCustomer(ctx, ownerID, customerID, func(c *domain.Customer) error {
		c.TotalPurchases = report.Replayed.TotalPurchases
		c.TotalPaid = report.Replayed.TotalPaid
		c.RemainingBalance = report.Replayed.RemainingBalance
		c.IsCredit = c.RemainingBalance.IsPositive()
		return nil
	})
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	report.Applied = true
	s.publish(ctx, events.CustomerAdjusted, ownerID, customerID, report)
	return report, nil
}
