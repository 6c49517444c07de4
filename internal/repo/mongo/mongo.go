// Package mongo implements internal/repo's repository interfaces on top
// of go.mongodb.org/mongo-driver, per spec.md §6's MONGODB_URI/MONGODB_DB
// environment variables.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store bundles the database handle and collection names shared by
// every repository in this package.
type Store struct {
	db *mongo.Database
}

// Connect dials uri and selects dbName, verifying connectivity with a
// bounded ping.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &Store{db: client.Database(dbName)}, nil
}

// Disconnect closes the underlying client.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func (s *Store) accounts() *mongo.Collection          { return s.db.Collection("accounts") }
func (s *Store) settings() *mongo.Collection          { return s.db.Collection("user_settings") }
func (s *Store) sessionStats() *mongo.Collection      { return s.db.Collection("game_sessions") }
func (s *Store) cumulativeStats() *mongo.Collection   { return s.db.Collection("player_stats") }
func (s *Store) chatMessages() *mongo.Collection      { return s.db.Collection("chat_messages") }
func (s *Store) blockedUsers() *mongo.Collection      { return s.db.Collection("blocked_users") }
func (s *Store) friendRequests() *mongo.Collection    { return s.db.Collection("friend_requests") }
func (s *Store) friendships() *mongo.Collection       { return s.db.Collection("friendships") }
func (s *Store) privateMessages() *mongo.Collection   { return s.db.Collection("private_messages") }
