package mongo

import (
	"context"
	"time"

	"github.com/rtype/core/internal/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type blockDoc struct {
	ByEmail string `bson:"by_email"`
	Target  string `bson:"target"`
}

type friendRequestDoc struct {
	FromEmail string    `bson:"from_email"`
	ToEmail   string    `bson:"to_email"`
	SentAt    time.Time `bson:"sent_at"`
}

type friendshipDoc struct {
	A string `bson:"a"`
	B string `bson:"b"`
}

type privateMessageDoc struct {
	FromEmail string    `bson:"from_email"`
	ToEmail   string    `bson:"to_email"`
	Text      string    `bson:"text"`
	SentAt    time.Time `bson:"sent_at"`
}

// SocialRepository is the Mongo-backed repo.SocialRepository.
type SocialRepository struct{ store *Store }

// NewSocialRepository binds a SocialRepository to store.
func NewSocialRepository(store *Store) *SocialRepository { return &SocialRepository{store: store} }

func (r *SocialRepository) BlockUser(ctx context.Context, byEmail, target string) error {
	_, err := r.store.blockedUsers().UpdateOne(ctx,
		bson.M{"by_email": byEmail, "target": target},
		bson.M{"$set": blockDoc{ByEmail: byEmail, Target: target}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *SocialRepository) IsBlocked(ctx context.Context, byEmail, target string) (bool, error) {
	err := r.store.blockedUsers().FindOne(ctx, bson.M{"by_email": byEmail, "target": target}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SocialRepository) SendFriendRequest(ctx context.Context, req repo.FriendRequest) error {
	_, err := r.store.friendRequests().InsertOne(ctx, friendRequestDoc{
		FromEmail: req.FromEmail, ToEmail: req.ToEmail, SentAt: req.SentAt,
	})
	return err
}

func (r *SocialRepository) AcceptFriendRequest(ctx context.Context, fromEmail, toEmail string) error {
	_, err := r.store.friendRequests().DeleteOne(ctx, bson.M{"from_email": fromEmail, "to_email": toEmail})
	if err != nil {
		return err
	}
	_, err = r.store.friendships().InsertOne(ctx, friendshipDoc{A: fromEmail, B: toEmail})
	return err
}

func (r *SocialRepository) ListFriends(ctx context.Context, email string) ([]string, error) {
	cur, err := r.store.friendships().Find(ctx, bson.M{"$or": bson.A{
		bson.M{"a": email}, bson.M{"b": email},
	}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []friendshipDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	friends := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.A == email {
			friends = append(friends, d.B)
		} else {
			friends = append(friends, d.A)
		}
	}
	return friends, nil
}

func (r *SocialRepository) SendPrivateMessage(ctx context.Context, msg repo.PrivateMessage) error {
	_, err := r.store.privateMessages().InsertOne(ctx, privateMessageDoc{
		FromEmail: msg.FromEmail, ToEmail: msg.ToEmail, Text: msg.Text, SentAt: msg.SentAt,
	})
	return err
}

func (r *SocialRepository) ListPrivateMessages(ctx context.Context, a, b string, limit int) ([]repo.PrivateMessage, error) {
	cur, err := r.store.privateMessages().Find(ctx,
		bson.M{"$or": bson.A{
			bson.M{"from_email": a, "to_email": b},
			bson.M{"from_email": b, "to_email": a},
		}},
		options.Find().SetSort(bson.M{"sent_at": -1}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []privateMessageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]repo.PrivateMessage, len(docs))
	for i, d := range docs {
		out[i] = repo.PrivateMessage{FromEmail: d.FromEmail, ToEmail: d.ToEmail, Text: d.Text, SentAt: d.SentAt}
	}
	return out, nil
}
