// Package mongodb journals movements whose balance change was applied but whose ledger
// record could not be written, so operators can reconcile them.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const collectionName = "unreconciled_movements"

// Entry is the stored document. Amounts are kept as decimal strings.
type Entry struct {
	TransactionID   string    `bson:"_id"`
	UserID          string    `bson:"user_id"`
	Amount          string    `bson:"amount"`
	Kind            string    `bson:"kind"`
	PreviousBalance string    `bson:"previous_balance"`
	NewBalance      string    `bson:"new_balance"`
	Cause           string    `bson:"cause"`
	Resolved        bool      `bson:"resolved"`
	RecordedAt      time.Time `bson:"recorded_at"`
}

type Journal struct {
	insert func(ctx context.Context, doc Entry) error
	now    func() time.Time
}

func NewJournal(client *mongo.Client, dbName string) *Journal {
	collection := client.Database(dbName).Collection(collectionName)
	return newJournal(func(ctx context.Context, doc Entry) error {
		_, err := collection.InsertOne(ctx, doc)
		return err
	})
}

func newJournal(insert func(ctx context.Context, doc Entry) error) *Journal {
	return &Journal{insert: insert, now: time.Now}
}

func (j *Journal) Record(ctx context.Context, tx models.Transaction, previous, next decimal.Decimal, cause error) error {
	const op = "reconcile.mongodb.Record"

	entry := Entry{
		TransactionID:   tx.ID.String(),
		UserID:          tx.UserID,
		Amount:          tx.Amount.String(),
		Kind:            string(tx.Kind),
		PreviousBalance: previous.String(),
		NewBalance:      next.String(),
		RecordedAt:      j.now().UTC(),
	}
	if cause != nil {
		entry.Cause = cause.Error()
	}

	if err := j.insert(ctx, entry); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
