package scylla

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"reset-guard/internal/models"
	"reset-guard/internal/util"
)

// AccountRepository reads identity directory records. This service
// never writes to the directory.
type AccountRepository struct {
	client *ScyllaClient
}

func NewAccountRepository(client *ScyllaClient) *AccountRepository {
	return &AccountRepository{client: client}
}

// FindAccountByEmail looks up an account by its normalized email and
// loads its enrolled second factors.
func (r *AccountRepository) FindAccountByEmail(ctx context.Context, email string) (*models.Account, bool, error) {
	account := &models.Account{}

	err := r.client.Prepared.GetAccountByEmail.WithContext(ctx).Bind(email).Scan(
		&account.AccountID, &account.Email, &account.Disabled,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			util.Debug("no directory record for email hash lookup")
			return nil, false, nil
		}
		util.Error("directory lookup failed", zap.Error(err))
		return nil, false, fmt.Errorf("directory lookup failed: %w", err)
	}

	factors, err := r.loadFactors(ctx, account.AccountID)
	if err != nil {
		return nil, false, err
	}
	account.Factors = factors

	return account, true, nil
}

func (r *AccountRepository) loadFactors(ctx context.Context, accountID string) ([]models.MFAFactor, error) {
	iter := r.client.Prepared.GetAccountFactors.WithContext(ctx).Bind(accountID).Iter()

	var factors []models.MFAFactor
	var f models.MFAFactor
	for iter.Scan(&f.AccountID, &f.FactorID, &f.Kind, &f.PhoneNumber, &f.DisplayName, &f.EnrolledAt) {
		factors = append(factors, f)
	}
	if err := iter.Close(); err != nil {
		util.Error("failed to load account factors",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load account factors: %w", err)
	}

	return factors, nil
}
