package mongo

import (
	"context"
	"time"

	"github.com/rtype/core/internal/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type chatMessageDoc struct {
	RoomCode    string    `bson:"room_code"`
	DisplayName string    `bson:"display_name"`
	Text        string    `bson:"text"`
	SentAt      time.Time `bson:"sent_at"`
}

// ChatRepository is the Mongo-backed repo.ChatRepository.
type ChatRepository struct{ store *Store }

// NewChatRepository binds a ChatRepository to store.
func NewChatRepository(store *Store) *ChatRepository { return &ChatRepository{store: store} }

func (r *ChatRepository) Append(ctx context.Context, msg repo.ChatMessageRecord) error {
	_, err := r.store.chatMessages().InsertOne(ctx, chatMessageDoc{
		RoomCode:    msg.RoomCode,
		DisplayName: msg.DisplayName,
		Text:        msg.Text,
		SentAt:      msg.SentAt,
	})
	return err
}

func (r *ChatRepository) Recent(ctx context.Context, roomCode string, limit int) ([]repo.ChatMessageRecord, error) {
	cur, err := r.store.chatMessages().Find(ctx,
		bson.M{"room_code": roomCode},
		options.Find().SetSort(bson.M{"sent_at": -1}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []chatMessageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]repo.ChatMessageRecord, len(docs))
	for i, d := range docs {
		out[i] = repo.ChatMessageRecord{RoomCode: d.RoomCode, DisplayName: d.DisplayName, Text: d.Text, SentAt: d.SentAt}
	}
	return out, nil
}
