package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.Thai)

// FormatAmount renders a money amount with thousands separators for
// receipts, e.g. "1,250.00".
func FormatAmount(amount float64) string {
	return amountPrinter.Sprintf("%.2f", amount)
}

// RecordPayment takes money against a sale or hands it back against a
// return: sale payments carry a positive amount, return refunds a negative
// one. Cash sale payments compute change from the received amount; QR,
// transfer, and refunds settle exactly.
func (s *Service) RecordPayment(ctx context.Context, transactionID int64, req PaymentRequest) (Payment, error) {
	if err := s.validate.Struct(req); err != nil {
		return Payment{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status == StatusCancelled {
			return fmt.Errorf("%w: %s is cancelled", ErrInvalidState, t.DocNo)
		}
		switch t.DocType {
		case DocTypeSale:
			if req.Amount <= 0 {
				return fmt.Errorf("%w: sale payment must be positive", ErrValidation)
			}
		case DocTypeReturn:
			if req.Amount >= 0 {
				return fmt.Errorf("%w: return refund must be negative", ErrValidation)
			}
		}
		payment = Payment{
			TransactionID: transactionID,
			Method:        req.Method,
			Amount:        req.Amount,
			Status:        PaymentConfirmed,
			CreatedAt:     time.Now(),
		}
		if t.DocType == DocTypeSale && req.Method == MethodCash {
			if req.Received < req.Amount {
				return fmt.Errorf("%w: received %s, need %s",
					ErrInsufficientPayment, FormatAmount(req.Received), FormatAmount(req.Amount))
			}
			payment.Received = req.Received
			payment.Change = req.Received - req.Amount
		} else {
			payment.Received = req.Amount
		}
		id, err := repo.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger.Info("payment recorded",
		slog.Int64("transaction_id", transactionID),
		slog.String("method", payment.Method),
		slog.String("amount", FormatAmount(payment.Amount)),
		slog.String("change", FormatAmount(payment.Change)))
	return payment, nil
}
