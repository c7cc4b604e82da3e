package billing

import (
	"errors"

	accountdomain "github.com/smallbiznis/meterly/internal/account/domain"
	invoicedomain "github.com/smallbiznis/meterly/internal/invoice/domain"
	"github.com/smallbiznis/meterly/internal/period"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/zap"
)

var ErrInvalidID = errors.New("invalid_id")

// domainErrors pass through the engine unchanged. Anything else came from
// storage and is collapsed into db.ErrStorageUnavailable.
var domainErrors = []error{
	ErrInvalidID,
	period.ErrInvalidPeriod,
	accountdomain.ErrAccountNotFound,
	pricedomain.ErrPriceNotFound,
	pricedomain.ErrPlanNotFound,
	subscriptiondomain.ErrInvalidAccount,
	subscriptiondomain.ErrInvalidSubscription,
	subscriptiondomain.ErrSubscriptionNotFound,
	subscriptiondomain.ErrAlreadyCanceled,
	subscriptiondomain.ErrInvalidTransition,
	invoicedomain.ErrInvoiceNotFound,
	invoicedomain.ErrNumberConflict,
	invoicedomain.ErrSubscriptionNotBillable,
	invoicedomain.ErrMissingItems,
	invoicedomain.ErrMissingPrice,
	usagedomain.ErrInvalidQuantity,
	usagedomain.ErrInvalidMeterCode,
	usagedomain.ErrInvalidAccount,
	usagedomain.ErrRateLimited,
	usagedomain.ErrAggregateNotFound,
}

func isDomainErr(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (e *Engine) mapErr(op string, err error) error {
	if err == nil || isDomainErr(err) {
		return err
	}
	mapped := db.StorageError(err)
	if errors.Is(mapped, db.ErrStorageUnavailable) {
		e.log.Error("storage failure", zap.String("op", op), zap.Error(err))
	}
	return mapped
}
