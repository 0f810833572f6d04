package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rbw-core/internal/db"
	"rbw-core/internal/models"
)

// Mongo implements Store over the collections of db.MongoDB.
type Mongo struct {
	db  *db.MongoDB
	now func() time.Time
}

func NewMongo(database *db.MongoDB) *Mongo {
	return &Mongo{db: database, now: time.Now}
}

func (s *Mongo) Ping(ctx context.Context) error {
	return mapErr(s.db.Ping(ctx))
}

// mapErr translates driver errors into the shared taxonomy.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return models.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", models.ErrConflict, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return err
}

func findAll[T any](ctx context.Context, c *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func findOne[T any](ctx context.Context, c *mongo.Collection, filter interface{}, opts ...*options.FindOneOptions) (*T, error) {
	var doc T
	if err := c.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	return &doc, nil
}

// missingOrConflict is used after a conditional write matched nothing.
func missingOrConflict(ctx context.Context, c *mongo.Collection, id interface{}) error {
	n, err := c.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return models.ErrConflict
}

// ---- players ----

func (s *Mongo) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	return findOne[models.Player](ctx, s.db.Users(), bson.M{"_id": id})
}

func (s *Mongo) GetPlayers(ctx context.Context, ids []string) (map[string]*models.Player, error) {
	players, err := findAll[models.Player](ctx, s.db.Users(), bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Player, len(players))
	for i := range players {
		out[players[i].ID] = &players[i]
	}
	return out, nil
}

func (s *Mongo) FindPlayerByIGN(ctx context.Context, ign string) (*models.Player, error) {
	return findOne[models.Player](ctx, s.db.Users(), bson.M{"ignLower": strings.ToLower(ign)})
}

func (s *Mongo) FindPlayers(ctx context.Context, q models.PlayerQuery) ([]models.Player, error) {
	filter := bson.M{}
	if len(q.IDs) > 0 {
		filter["_id"] = bson.M{"$in": q.IDs}
	}
	if q.MinRating > 0 {
		filter["rating"] = bson.M{"$gte": q.MinRating}
	}
	if q.LastGameBefore != nil {
		filter["lastGameAt"] = bson.M{"$lt": *q.LastGameBefore}
	}
	if q.LatestStrikeBefore != nil {
		filter["strikesCount"] = bson.M{"$gt": 0}
		filter["latestStrike.date"] = bson.M{"$lt": *q.LatestStrikeBefore}
	}

	opts := options.Find()
	if q.SortByRating {
		opts.SetSort(bson.D{{Key: "rating", Value: -1}, {Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return findAll[models.Player](ctx, s.db.Users(), filter, opts)
}

func (s *Mongo) InsertPlayer(ctx context.Context, p *models.Player) error {
	p.IGNLower = strings.ToLower(p.IGN)
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.Users().InsertOne(ctx, p)
	return mapErr(err)
}

func addField(field string, n int) bson.M {
	return bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$" + field, 0}}, n}}
}

func (s *Mongo) ApplyPlayerDelta(ctx context.Context, id string, d models.PlayerDelta) (models.PlayerStats, models.PlayerStats, error) {
	daily := interface{}(addField("dailyRating", d.DailyRating))
	if d.FloorDaily {
		daily = bson.M{"$max": bson.A{0, addField("dailyRating", d.DailyRating)}}
	}
	counters := bson.M{
		"rating":      bson.M{"$max": bson.A{0, addField("rating", d.Rating)}},
		"dailyRating": daily,
		"wins":        addField("wins", d.Wins),
		"losses":      addField("losses", d.Losses),
		"kills":       addField("kills", d.Kills),
		"deaths":      addField("deaths", d.Deaths),
		"bedsBroken":  addField("bedsBroken", d.BedsBroken),
		"mvps":        addField("mvps", d.MVPs),
		"scored":      addField("scored", d.Scored),
		"voided":      addField("voided", d.Voided),
		"gamesPlayed": addField("gamesPlayed", d.GamesPlayed),
		"updatedAt":   s.now(),
	}
	switch d.Streak {
	case models.StreakWin:
		counters["winStreak"] = addField("winStreak", 1)
		counters["loseStreak"] = 0
	case models.StreakLose:
		counters["loseStreak"] = addField("loseStreak", 1)
		counters["winStreak"] = 0
	}
	if d.LastGameAt != nil {
		counters["lastGameAt"] = *d.LastGameAt
	}

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"_prevRating": "$rating"}}},
		{{Key: "$set", Value: counters}},
		{{Key: "$set", Value: bson.M{
			"peakRating":    bson.M{"$max": bson.A{bson.M{"$ifNull": bson.A{"$peakRating", 0}}, "$rating"}},
			"peakWinStreak": bson.M{"$max": bson.A{bson.M{"$ifNull": bson.A{"$peakWinStreak", 0}}, bson.M{"$ifNull": bson.A{"$winStreak", 0}}}},
		}}},
	}
	filter := bson.M{"_id": id}
	if d.Key != "" {
		filter["ledger.k"] = bson.M{"$ne": d.Key}
		entry := bson.M{"k": bson.M{"$literal": d.Key}, "r": bson.M{"$subtract": bson.A{"$rating", "$_prevRating"}}}
		pipeline = append(pipeline, bson.D{{Key: "$set", Value: bson.M{
			"ledger": bson.M{"$slice": bson.A{
				bson.M{"$concatArrays": bson.A{bson.M{"$ifNull": bson.A{"$ledger", bson.A{}}}, bson.A{entry}}},
				-models.LedgerSize,
			}},
		}}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$unset", Value: "_prevRating"}})

	var before models.Player
	err := s.db.Users().FindOneAndUpdate(ctx, filter, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) && d.Key != "" {
		p, gerr := s.GetPlayer(ctx, id)
		if gerr != nil {
			return models.PlayerStats{}, models.PlayerStats{}, gerr
		}
		return p.PlayerStats, p.PlayerStats, models.ErrAlreadyApplied
	}
	if err != nil {
		return models.PlayerStats{}, models.PlayerStats{}, mapErr(err)
	}
	return before.PlayerStats, d.Apply(before.PlayerStats), nil
}

func (s *Mongo) UpdatePlayer(ctx context.Context, id string, patch models.PlayerPatch) error {
	if patch.AddIgnore != "" && patch.RemoveIgnore != "" {
		return models.Invalid("ignore", "add and remove cannot be combined")
	}
	set := bson.M{"updatedAt": s.now()}
	if patch.DisplayName != nil {
		set["displayName"] = *patch.DisplayName
	}
	if patch.IGN != nil {
		set["ign"] = *patch.IGN
		set["ignLower"] = strings.ToLower(*patch.IGN)
	}
	if patch.UUID != nil {
		set["uuid"] = *patch.UUID
	}
	if patch.Banned != nil {
		set["banned"] = *patch.Banned
	}
	if patch.Muted != nil {
		set["muted"] = *patch.Muted
	}
	if patch.Frozen != nil {
		set["frozen"] = *patch.Frozen
	}
	if patch.StrikesCount != nil {
		set["strikesCount"] = *patch.StrikesCount
	}
	if patch.LatestStrike != nil {
		set["latestStrike"] = *patch.LatestStrike
	}
	if patch.Settings != nil {
		if patch.AddIgnore != "" || patch.RemoveIgnore != "" {
			return models.Invalid("settings", "cannot be combined with ignore changes")
		}
		set["settings"] = *patch.Settings
	}

	update := bson.M{"$set": set}
	if patch.AddIgnore != "" {
		update["$addToSet"] = bson.M{"settings.partyIgnores": patch.AddIgnore}
	}
	if patch.RemoveIgnore != "" {
		update["$pull"] = bson.M{"settings.partyIgnores": patch.RemoveIgnore}
	}

	res, err := s.db.Users().UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Mongo) ResetDailyRatings(ctx context.Context) (int64, error) {
	res, err := s.db.Users().UpdateMany(ctx, bson.M{"dailyRating": bson.M{"$ne": 0}},
		bson.M{"$set": bson.M{"dailyRating": 0}})
	if err != nil {
		return 0, mapErr(err)
	}
	return res.ModifiedCount, nil
}

func (s *Mongo) DecayRatings(ctx context.Context, value, threshold int, inactiveBefore time.Time) (int64, error) {
	filter := bson.M{
		"rating": bson.M{"$gt": threshold},
		"$or": bson.A{
			bson.M{"lastGameAt": bson.M{"$lt": inactiveBefore}},
			bson.M{"lastGameAt": bson.M{"$exists": false}},
		},
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"rating":    bson.M{"$max": bson.A{threshold, bson.M{"$subtract": bson.A{"$rating", value}}}},
			"updatedAt": s.now(),
		}}},
	}
	res, err := s.db.Users().UpdateMany(ctx, filter, pipeline)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.ModifiedCount, nil
}

// ---- settings ----

func (s *Mongo) ListBands(ctx context.Context) ([]models.RankBand, error) {
	return findAll[models.RankBand](ctx, s.db.Elos(), bson.M{},
		options.Find().SetSort(bson.D{{Key: "minRating", Value: 1}}))
}

func (s *Mongo) ReplaceBands(ctx context.Context, bands []models.RankBand) error {
	if _, err := s.db.Elos().DeleteMany(ctx, bson.M{}); err != nil {
		return mapErr(err)
	}
	if len(bands) == 0 {
		return nil
	}
	docs := make([]interface{}, len(bands))
	for i := range bands {
		docs[i] = bands[i]
	}
	_, err := s.db.Elos().InsertMany(ctx, docs)
	return mapErr(err)
}

func (s *Mongo) ListQueues(ctx context.Context) ([]models.Queue, error) {
	return findAll[models.Queue](ctx, s.db.Queues(), bson.M{})
}

func (s *Mongo) UpsertQueue(ctx context.Context, q *models.Queue) error {
	_, err := s.db.Queues().ReplaceOne(ctx, bson.M{"_id": q.ID}, q, options.Replace().SetUpsert(true))
	return mapErr(err)
}

func (s *Mongo) DeleteQueue(ctx context.Context, id string) error {
	res, err := s.db.Queues().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Mongo) ListBindings(ctx context.Context) ([]models.PermissionBinding, error) {
	return findAll[models.PermissionBinding](ctx, s.db.Settings(), bson.M{})
}

func (s *Mongo) UpsertBinding(ctx context.Context, b *models.PermissionBinding) error {
	_, err := s.db.Settings().ReplaceOne(ctx, bson.M{"_id": b.Key}, b, options.Replace().SetUpsert(true))
	return mapErr(err)
}

// ---- parties ----

func (s *Mongo) GetParty(ctx context.Context, id string) (*models.Party, error) {
	return findOne[models.Party](ctx, s.db.Parties(), bson.M{"_id": id})
}

func (s *Mongo) FindPartyByMember(ctx context.Context, playerID string) (*models.Party, error) {
	return findOne[models.Party](ctx, s.db.Parties(), bson.M{"members": playerID})
}

func (s *Mongo) FindParties(ctx context.Context, q models.PartyQuery) ([]models.Party, error) {
	filter := bson.M{}
	if q.InactiveBefore != nil {
		filter["lastActivityAt"] = bson.M{"$lt": *q.InactiveBefore}
	}
	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return findAll[models.Party](ctx, s.db.Parties(), filter, opts)
}

func (s *Mongo) SaveParty(ctx context.Context, p *models.Party) error {
	_, err := s.db.Parties().ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	return mapErr(err)
}

func (s *Mongo) DeleteParty(ctx context.Context, id string) error {
	res, err := s.db.Parties().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ---- matches ----

func (s *Mongo) InsertMatch(ctx context.Context, m *models.Match) error {
	_, err := s.db.Games().InsertOne(ctx, m)
	return mapErr(err)
}

func (s *Mongo) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	return findOne[models.Match](ctx, s.db.Games(), bson.M{"_id": id})
}

func matchPatchSet(to models.MatchState, patch models.MatchPatch) bson.M {
	set := bson.M{"state": to}
	if patch.EndedAt != nil {
		set["endedAt"] = *patch.EndedAt
	}
	if patch.WinningTeam != 0 {
		set["winningTeam"] = patch.WinningTeam
	}
	if patch.MVPs != nil {
		set["mvps"] = patch.MVPs
	}
	if patch.SubmittedBy != "" {
		set["submittedBy"] = patch.SubmittedBy
	}
	if patch.ScoredBy != "" {
		set["scoredBy"] = patch.ScoredBy
	}
	if patch.VoidedBy != "" {
		set["voidedBy"] = patch.VoidedBy
	}
	if patch.VoidReason != "" {
		set["voidReason"] = patch.VoidReason
	}
	return set
}

func (s *Mongo) TransitionMatch(ctx context.Context, id string, from []models.MatchState, to models.MatchState, patch models.MatchPatch) (*models.Match, error) {
	var m models.Match
	err := s.db.Games().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "state": bson.M{"$in": from}},
		bson.M{"$set": matchPatchSet(to, patch)},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, missingOrConflict(ctx, s.db.Games(), id)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *Mongo) FindMatches(ctx context.Context, q models.MatchQuery) ([]models.Match, error) {
	filter := bson.M{}
	if len(q.States) > 0 {
		filter["state"] = bson.M{"$in": q.States}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return findAll[models.Match](ctx, s.db.Games(), filter, opts)
}

func (s *Mongo) InsertResources(ctx context.Context, r *models.MatchResources) error {
	_, err := s.db.GamesChannels().InsertOne(ctx, r)
	return mapErr(err)
}

func (s *Mongo) GetResources(ctx context.Context, matchID string) (*models.MatchResources, error) {
	return findOne[models.MatchResources](ctx, s.db.GamesChannels(), bson.M{"_id": matchID})
}

func (s *Mongo) ListResources(ctx context.Context) ([]models.MatchResources, error) {
	return findAll[models.MatchResources](ctx, s.db.GamesChannels(), bson.M{})
}

func (s *Mongo) DeleteResources(ctx context.Context, matchID string) error {
	res, err := s.db.GamesChannels().DeleteOne(ctx, bson.M{"_id": matchID})
	if err != nil {
		return mapErr(err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ---- recent games ----

func (s *Mongo) InsertRecentGames(ctx context.Context, rows []models.RecentGame) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rows))
	for i := range rows {
		docs[i] = rows[i]
	}
	_, err := s.db.RecentGames().InsertMany(ctx, docs)
	return mapErr(err)
}

func (s *Mongo) FindRecentGames(ctx context.Context, q models.RecentGameQuery) ([]models.RecentGame, error) {
	filter := bson.M{}
	if q.MatchID != "" {
		filter["matchId"] = q.MatchID
	}
	if q.PlayerID != "" {
		filter["playerId"] = q.PlayerID
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return findAll[models.RecentGame](ctx, s.db.RecentGames(), filter, opts)
}

func recentGamePatchSet(patch models.RecentGamePatch) bson.M {
	set := bson.M{}
	if patch.Result != "" {
		set["result"] = patch.Result
	}
	if patch.RatingDelta != nil {
		set["ratingDelta"] = *patch.RatingDelta
	}
	if patch.IsMVP != nil {
		set["isMvp"] = *patch.IsMVP
	}
	if patch.Applied != nil {
		set["applied"] = *patch.Applied
	}
	if patch.AppliedDelta != nil {
		set["appliedDelta"] = *patch.AppliedDelta
	}
	if patch.Kills != nil {
		set["kills"] = *patch.Kills
	}
	if patch.Deaths != nil {
		set["deaths"] = *patch.Deaths
	}
	if patch.BedsBroken != nil {
		set["bedsBroken"] = *patch.BedsBroken
	}
	return set
}

func (s *Mongo) UpdateRecentGame(ctx context.Context, id int64, from []models.GameResult, patch models.RecentGamePatch) error {
	filter := bson.M{"_id": id}
	if len(from) > 0 {
		filter["result"] = bson.M{"$in": from}
	}
	set := recentGamePatchSet(patch)
	if len(set) == 0 {
		return nil
	}
	res, err := s.db.RecentGames().UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return missingOrConflict(ctx, s.db.RecentGames(), id)
	}
	return nil
}

// ---- sanctions ----

func (s *Mongo) sanctionCollection(kind models.SanctionKind) (*mongo.Collection, error) {
	switch kind {
	case models.SanctionBan:
		return s.db.Bans(), nil
	case models.SanctionMute:
		return s.db.Mutes(), nil
	case models.SanctionStrike:
		return s.db.Strikes(), nil
	}
	return nil, models.Invalid("kind", fmt.Sprintf("unknown sanction kind %q", kind))
}

func (s *Mongo) InsertSanction(ctx context.Context, sanction *models.Sanction) error {
	c, err := s.sanctionCollection(sanction.Kind)
	if err != nil {
		return err
	}
	_, err = c.InsertOne(ctx, sanction)
	return mapErr(err)
}

func (s *Mongo) FindSanctions(ctx context.Context, kind models.SanctionKind, q models.SanctionQuery) ([]models.Sanction, error) {
	c, err := s.sanctionCollection(kind)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if q.PlayerID != "" {
		filter["playerId"] = q.PlayerID
	}
	if q.ActiveAt != nil {
		if kind == models.SanctionStrike {
			filter["removed"] = bson.M{"$ne": true}
		} else {
			filter["resolved"] = false
			filter["expiresAt"] = bson.M{"$gt": *q.ActiveAt}
		}
	}
	if q.ExpiredAt != nil {
		filter["resolved"] = false
		filter["expiresAt"] = bson.M{"$lte": *q.ExpiredAt}
	}
	opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return findAll[models.Sanction](ctx, c, filter, opts)
}

func (s *Mongo) ResolveSanction(ctx context.Context, kind models.SanctionKind, id, by, reason string, at time.Time) (bool, error) {
	c, err := s.sanctionCollection(kind)
	if err != nil {
		return false, err
	}
	res, err := c.UpdateOne(ctx, bson.M{"_id": id, "resolved": false}, bson.M{"$set": bson.M{
		"resolved":       true,
		"resolvedAt":     at,
		"resolvedBy":     by,
		"resolvedReason": reason,
	}})
	if err != nil {
		return false, mapErr(err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if err := missingOrConflict(ctx, c, id); errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	return false, nil
}

func (s *Mongo) MarkStrikesRemoved(ctx context.Context, playerID, by string, at time.Time) (int64, error) {
	res, err := s.db.Strikes().UpdateMany(ctx,
		bson.M{"playerId": playerID, "removed": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"removed": true, "removedAt": at, "removedBy": by}})
	if err != nil {
		return 0, mapErr(err)
	}
	return res.ModifiedCount, nil
}

// ---- screenshares ----

func (s *Mongo) InsertScreenshare(ctx context.Context, ss *models.Screenshare) error {
	_, err := s.db.Screenshares().InsertOne(ctx, ss)
	return mapErr(err)
}

func (s *Mongo) FindOpenScreenshare(ctx context.Context, targetID string) (*models.Screenshare, error) {
	return findOne[models.Screenshare](ctx, s.db.Screenshares(),
		bson.M{"targetId": targetID, "state": models.ScreenshareOpen},
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (s *Mongo) CloseScreenshare(ctx context.Context, id string, state models.ScreenshareState, by string, at time.Time) (bool, error) {
	res, err := s.db.Screenshares().UpdateOne(ctx,
		bson.M{"_id": id, "state": models.ScreenshareOpen},
		bson.M{"$set": bson.M{"state": state, "closedAt": at, "closedBy": by}})
	if err != nil {
		return false, mapErr(err)
	}
	return res.MatchedCount == 1, nil
}

// ---- booster / counters / audit ----

func (s *Mongo) GetBooster(ctx context.Context) (*models.Booster, error) {
	return findOne[models.Booster](ctx, s.db.Booster(), bson.M{"_id": boosterID})
}

func (s *Mongo) SetBooster(ctx context.Context, b *models.Booster) error {
	b.ID = boosterID
	_, err := s.db.Booster().ReplaceOne(ctx, bson.M{"_id": boosterID}, b, options.Replace().SetUpsert(true))
	return mapErr(err)
}

func (s *Mongo) IncrementCounter(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Counters().FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, mapErr(err)
	}
	return doc.Seq, nil
}

// Job runs share the counters collection under a "jobrun:" prefix.
func jobRunID(job string) string { return "jobrun:" + job }

func (s *Mongo) LastJobRun(ctx context.Context, job string) (string, error) {
	var doc struct {
		Day string `bson:"day"`
	}
	err := s.db.Counters().FindOne(ctx, bson.M{"_id": jobRunID(job)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", mapErr(err)
	}
	return doc.Day, nil
}

func (s *Mongo) MarkJobRun(ctx context.Context, job, day string) error {
	_, err := s.db.Counters().UpdateOne(ctx,
		bson.M{"_id": jobRunID(job)},
		bson.M{"$set": bson.M{"day": day, "updatedAt": s.now()}},
		options.Update().SetUpsert(true),
	)
	return mapErr(err)
}

func (s *Mongo) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	_, err := s.db.AuditLog().InsertOne(ctx, e)
	return mapErr(err)
}
