package mongo

import (
	"context"

	"github.com/rtype/core/internal/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type settingsDoc struct {
	Email  string            `bson:"email"`
	Values map[string]string `bson:"values"`
}

// SettingsRepository is the Mongo-backed repo.SettingsRepository.
type SettingsRepository struct{ store *Store }

// NewSettingsRepository binds a SettingsRepository to store.
func NewSettingsRepository(store *Store) *SettingsRepository {
	return &SettingsRepository{store: store}
}

func (r *SettingsRepository) Get(ctx context.Context, email string) (repo.UserSettings, error) {
	var doc settingsDoc
	err := r.store.settings().FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return repo.UserSettings{Email: email, Values: map[string]string{}}, nil
	}
	if err != nil {
		return repo.UserSettings{}, err
	}
	return repo.UserSettings{Email: doc.Email, Values: doc.Values}, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings repo.UserSettings) error {
	_, err := r.store.settings().UpdateOne(ctx,
		bson.M{"email": settings.Email},
		bson.M{"$set": settingsDoc{Email: settings.Email, Values: settings.Values}},
		options.Update().SetUpsert(true),
	)
	return err
}
