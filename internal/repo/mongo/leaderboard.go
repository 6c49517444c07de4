package mongo

import (
	"context"
	"sort"
	"time"

	"github.com/rtype/core/internal/achievements"
	"github.com/rtype/core/internal/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// weaponIncFields names the $inc keys for per-weapon kill counters, kept
// as named subdocument fields (not an array) so a bare $inc against a
// brand-new cumulative document can't collide with Mongo's array/object
// ambiguity for dotted-index updates.
var weaponIncFields = [4]string{
	"kills_by_weapon.standard",
	"kills_by_weapon.spread",
	"kills_by_weapon.laser",
	"kills_by_weapon.missile",
}

type sessionStatsDoc struct {
	Email     string    `bson:"email"`
	RoomCode  string    `bson:"room_code"`
	Score     int32     `bson:"score"`
	Kills     int32     `bson:"kills"`
	Deaths    int32     `bson:"deaths"`
	BossKills int32     `bson:"boss_kills"`
	Wave      int32     `bson:"wave"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type weaponKillsDoc struct {
	Standard int64 `bson:"standard"`
	Spread   int64 `bson:"spread"`
	Laser    int64 `bson:"laser"`
	Missile  int64 `bson:"missile"`
}

type cumulativeStatsDoc struct {
	Email         string         `bson:"email"`
	TotalScore    int64          `bson:"total_score"`
	TotalKills    int64          `bson:"total_kills"`
	TotalDeaths   int64          `bson:"total_deaths"`
	BossKills     int64          `bson:"boss_kills"`
	GamesPlayed   int64          `bson:"games_played"`
	KillsByWeapon weaponKillsDoc `bson:"kills_by_weapon"`
	Achievements  []string       `bson:"achievements"`
}

func (d cumulativeStatsDoc) toRepo() repo.CumulativeStats {
	cum := repo.CumulativeStats{
		Email:       d.Email,
		TotalScore:  d.TotalScore,
		TotalKills:  d.TotalKills,
		TotalDeaths: d.TotalDeaths,
		BossKills:   d.BossKills,
		GamesPlayed: d.GamesPlayed,
		KillsByWeapon: [4]int64{
			d.KillsByWeapon.Standard,
			d.KillsByWeapon.Spread,
			d.KillsByWeapon.Laser,
			d.KillsByWeapon.Missile,
		},
	}
	for _, a := range d.Achievements {
		cum.Achievements = append(cum.Achievements, repo.Achievement(a))
	}
	return cum
}

// LeaderboardRepository is the Mongo-backed repo.LeaderboardRepository.
type LeaderboardRepository struct{ store *Store }

// NewLeaderboardRepository binds a LeaderboardRepository to store.
func NewLeaderboardRepository(store *Store) *LeaderboardRepository {
	return &LeaderboardRepository{store: store}
}

func toSessionDoc(s repo.SessionStats) sessionStatsDoc {
	return sessionStatsDoc{
		Email:     s.Email,
		RoomCode:  s.RoomCode,
		Score:     s.Score.Score,
		Kills:     s.Score.Kills,
		Deaths:    s.Score.Deaths,
		BossKills: s.Score.BossKills,
		Wave:      s.Wave,
		UpdatedAt: s.UpdatedAt,
	}
}

func (r *LeaderboardRepository) UpsertSessionStats(ctx context.Context, stats repo.SessionStats) error {
	_, err := r.store.sessionStats().UpdateOne(ctx,
		bson.M{"email": stats.Email},
		bson.M{"$set": toSessionDoc(stats)},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *LeaderboardRepository) FinalizeGameSession(ctx context.Context, stats repo.SessionStats) error {
	inc := bson.M{
		"total_score":  int64(stats.Score.Score),
		"total_kills":  int64(stats.Score.Kills),
		"total_deaths": int64(stats.Score.Deaths),
		"boss_kills":   int64(stats.Score.BossKills),
		"games_played": int64(1),
	}
	for i, k := range stats.Score.KillsByWeapon {
		if k != 0 && i < len(weaponIncFields) {
			inc[weaponIncFields[i]] = int64(k)
		}
	}

	after := options.After
	var doc cumulativeStatsDoc
	err := r.store.cumulativeStats().FindOneAndUpdate(ctx,
		bson.M{"email": stats.Email},
		bson.M{"$inc": inc},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after),
	).Decode(&doc)
	if err != nil {
		return err
	}

	cum := doc.toRepo()
	unlocked := achievements.CheckAndUnlock(cum, achievements.GameResult{
		Score:    stats,
		Duration: time.Since(stats.Score.GameStartedAt),
	})
	if len(unlocked) > 0 {
		names := make([]string, len(unlocked))
		for i, a := range unlocked {
			names[i] = string(a)
		}
		if _, err := r.store.cumulativeStats().UpdateOne(ctx,
			bson.M{"email": stats.Email},
			bson.M{"$addToSet": bson.M{"achievements": bson.M{"$each": names}}},
		); err != nil {
			return err
		}
	}

	_, err = r.store.sessionStats().DeleteOne(ctx, bson.M{"email": stats.Email})
	return err
}

func (r *LeaderboardRepository) GetCumulative(ctx context.Context, email string) (repo.CumulativeStats, error) {
	var doc cumulativeStatsDoc
	err := r.store.cumulativeStats().FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return repo.CumulativeStats{Email: email}, nil
	}
	if err != nil {
		return repo.CumulativeStats{}, err
	}
	return doc.toRepo(), nil
}

func (r *LeaderboardRepository) TopN(ctx context.Context, n int) ([]repo.LeaderboardEntry, error) {
	cur, err := r.store.cumulativeStats().Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"total_score": -1}).SetLimit(int64(n)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []cumulativeStatsDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].TotalScore > docs[j].TotalScore })

	entries := make([]repo.LeaderboardEntry, len(docs))
	for i, d := range docs {
		entries[i] = repo.LeaderboardEntry{Email: d.Email, TotalScore: d.TotalScore, Rank: i + 1}
	}
	return entries, nil
}
