package mongo

import (
	"context"
	"time"

	"github.com/rtype/core/internal/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type accountDoc struct {
	Email        string    `bson:"email"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

// AccountRepository is the Mongo-backed repo.AccountRepository.
type AccountRepository struct{ store *Store }

// NewAccountRepository binds an AccountRepository to store.
func NewAccountRepository(store *Store) *AccountRepository { return &AccountRepository{store: store} }

func (r *AccountRepository) Create(ctx context.Context, acct repo.Account) error {
	_, err := r.store.accounts().InsertOne(ctx, accountDoc{
		Email:        acct.Email,
		Username:     acct.Username,
		PasswordHash: acct.PasswordHash,
		CreatedAt:    acct.CreatedAt,
	})
	return err
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (repo.Account, error) {
	return r.find(ctx, bson.M{"email": email})
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (repo.Account, error) {
	return r.find(ctx, bson.M{"username": username})
}

func (r *AccountRepository) find(ctx context.Context, filter bson.M) (repo.Account, error) {
	var doc accountDoc
	err := r.store.accounts().FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return repo.Account{}, repo.ErrNotFound
	}
	if err != nil {
		return repo.Account{}, err
	}
	return repo.Account{
		Email:        doc.Email,
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
	}, nil
}
