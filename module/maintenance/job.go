package maintenance

import (
	"context"
	"time"

	"pulsechat/logger"
	"pulsechat/metrics"
	chatmodel "pulsechat/module/chat/model"
	roommodel "pulsechat/module/room/model"
	"pulsechat/module/search"
	usermodel "pulsechat/module/user/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// 保留窗口缺省值
const (
	DefaultArchiveHorizon = 180 * 24 * time.Hour // 归档：消息超过180天
	DefaultNotifHorizon   = 7 * 24 * time.Hour   // 通知：7天后硬删除
	DefaultIdleHorizon    = 30 * 24 * time.Hour  // 用户：30天不活跃重置状态/位置

	archiveBatch = 500
	stepTimeout  = 5 * time.Minute
)

// CollectionStats 单集合体检数据
type CollectionStats struct {
	Name          string  `json:"name"`
	SizeBytes     int64   `json:"size_bytes"`
	StorageBytes  int64   `json:"storage_bytes"`
	DocumentCount int64   `json:"document_count"`
	Fragmentation float64 `json:"fragmentation"` // storage/size，越大越碎
}

// Report 一轮维护的结果汇总
type Report struct {
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Archived     int64             `json:"archived"`
	PrunedNotifs int64             `json:"pruned_notifications"`
	ResetUsers   int64             `json:"reset_users"`
	OrphanMsgs   int64             `json:"orphan_messages"`
	OrphanGroups int64             `json:"orphan_groups"`
	Collections  []CollectionStats `json:"collections"`
	StepErrors   map[string]string `json:"step_errors,omitempty"` // 失败的步骤→原因；步骤间互不阻断
}

// ArchiveStore 归档步骤对消息集合的窄依赖；mongo 实现见下
type ArchiveStore interface {
	FindUnarchived(ctx context.Context, beforeMS, limit int64) ([]chatmodel.Message, error)
	CopyToArchive(ctx context.Context, docs []chatmodel.Message) error
	FlagArchived(ctx context.Context, ids []string, nowMS int64) (int64, error)
}

// Job 周期批处理；独立于请求路径，按快照操作，不长期持锁
type Job struct {
	DB      *mongo.Database
	Index   *search.Index
	Archive ArchiveStore

	ArchiveHorizon time.Duration
	NotifHorizon   time.Duration
	IdleHorizon    time.Duration
}

func NewJob(db *mongo.Database, idx *search.Index) *Job {
	return &Job{
		DB:             db,
		Index:          idx,
		Archive:        &mongoArchive{db: db},
		ArchiveHorizon: DefaultArchiveHorizon,
		NotifHorizon:   DefaultNotifHorizon,
		IdleHorizon:    DefaultIdleHorizon,
	}
}

// 体检与维护覆盖的集合
func (j *Job) collections() []string {
	return []string{
		chatmodel.MessageTableName,
		chatmodel.ArchiveTableName,
		roommodel.RoomTableName,
		usermodel.UserTableName,
		usermodel.GroupTableName,
		usermodel.NotificationTableName,
		search.MsgSearchTableName,
		search.RoomSearchTableName,
	}
}

// RunCycle 按固定顺序跑完全部步骤。任何一步失败只记入 StepErrors，
// 不影响后续步骤（每步自带超时，可独立中止）。
func (j *Job) RunCycle(ctx context.Context) *Report {
	rep := &Report{StartedAt: time.Now(), StepErrors: map[string]string{}}

	j.step(ctx, rep, "reindex", j.stepReindex)
	j.step(ctx, rep, "compact", j.stepCompact)
	j.step(ctx, rep, "archive", j.stepArchive)
	j.step(ctx, rep, "prune", j.stepPrune)
	j.step(ctx, rep, "orphan_scan", j.stepOrphanScan)
	j.step(ctx, rep, "stats", j.stepStats)

	rep.FinishedAt = time.Now()
	logger.Info("maintenance cycle finished",
		zap.Int64("archived", rep.Archived),
		zap.Int64("pruned_notifications", rep.PrunedNotifs),
		zap.Int64("orphan_messages", rep.OrphanMsgs),
		zap.Int("failed_steps", len(rep.StepErrors)))
	return rep
}

func (j *Job) step(ctx context.Context, rep *Report, name string, fn func(context.Context, *Report) error) {
	select {
	case <-ctx.Done():
		rep.StepErrors[name] = ctx.Err().Error()
		return
	default:
	}
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := fn(stepCtx, rep); err != nil {
		metrics.Fail(metrics.MaintenanceStep, name)
		rep.StepErrors[name] = err.Error()
		logger.Error("maintenance step failed", zap.String("step", name), zap.Error(err))
		return
	}
	metrics.Ok(metrics.MaintenanceStep, name)
}

// (1) 索引维护：逐集合重建，单集合失败不中止整批
func (j *Job) stepReindex(ctx context.Context, rep *Report) error {
	if err := j.Index.Rebuild(ctx); err != nil {
		logger.Warn("search index rebuild failed", zap.Error(err))
		rep.StepErrors["reindex:search"] = err.Error()
	}
	return nil
}

// (2) 压缩：尽力而为，失败只记日志
func (j *Job) stepCompact(ctx context.Context, rep *Report) error {
	for _, name := range j.collections() {
		res := j.DB.RunCommand(ctx, bson.D{{Key: "compact", Value: name}})
		if err := res.Err(); err != nil {
			logger.Warn("compact failed", zap.String("collection", name), zap.Error(err))
			rep.StepErrors["compact:"+name] = err.Error()
		}
	}
	return nil
}

// (3) 归档：先整批复制再打标，顺序保证不会出现“已复制未打标仍算成功”。
// 复制对重复键免疫（重跑幂等），打标只在复制成功的批次上执行。
func (j *Job) stepArchive(ctx context.Context, rep *Report) error {
	horizonMS := time.Now().Add(-j.ArchiveHorizon).UnixMilli()

	for {
		batch, err := j.Archive.FindUnarchived(ctx, horizonMS, archiveBatch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := j.Archive.CopyToArchive(ctx, batch); err != nil {
			return err
		}

		ids := make([]string, 0, len(batch))
		for i := range batch {
			ids = append(ids, batch[i].ID)
		}
		n, err := j.Archive.FlagArchived(ctx, ids, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		rep.Archived += n
		metrics.ArchivedMessages.Add(float64(n))

		if int64(len(batch)) < archiveBatch {
			return nil
		}
	}
}

type mongoArchive struct {
	db *mongo.Database
}

func (a *mongoArchive) FindUnarchived(ctx context.Context, beforeMS, limit int64) ([]chatmodel.Message, error) {
	cur, err := a.db.Collection(chatmodel.MessageTableName).Find(ctx, bson.M{
		"archived":      false,
		"deleted":       false,
		"created_at_ms": bson.M{"$lt": beforeMS},
	}, options.Find().SetLimit(limit))
	if err != nil {
		return nil, err
	}
	var out []chatmodel.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *mongoArchive) CopyToArchive(ctx context.Context, docs []chatmodel.Message) error {
	payload := make([]any, 0, len(docs))
	for i := range docs {
		payload = append(payload, docs[i])
	}
	_, err := a.db.Collection(chatmodel.ArchiveTableName).
		InsertMany(ctx, payload, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicateKeys(err) {
		return err
	}
	return nil
}

// FlagArchived 打标同时抬版本号，让打标前读走的 CAS 写方落败重试，
// 不会把 archived 覆写回去
func (a *mongoArchive) FlagArchived(ctx context.Context, ids []string, nowMS int64) (int64, error) {
	res, err := a.db.Collection(chatmodel.MessageTableName).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{
			"$set": bson.M{"archived": true, "archived_at_ms": nowMS},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// (4) 清理：过期通知硬删除；长期不活跃用户重置状态/位置
func (j *Job) stepPrune(ctx context.Context, rep *Report) error {
	notifHorizon := time.Now().Add(-j.NotifHorizon).UnixMilli()
	res, err := j.DB.Collection(usermodel.NotificationTableName).
		DeleteMany(ctx, bson.M{"created_at_ms": bson.M{"$lt": notifHorizon}})
	if err != nil {
		return err
	}
	rep.PrunedNotifs = res.DeletedCount

	idleHorizon := time.Now().Add(-j.IdleHorizon).UnixMilli()
	upd, err := j.DB.Collection(usermodel.UserTableName).UpdateMany(ctx,
		bson.M{"last_active_ms": bson.M{"$lt": idleHorizon}},
		bson.M{"$set": bson.M{"presence": "offline", "location": ""}})
	if err != nil {
		return err
	}
	rep.ResetUsers = upd.ModifiedCount
	return nil
}

// (5) 完整性扫描：只报数，不自动删除（删除是运维显式动作）
func (j *Job) stepOrphanScan(ctx context.Context, rep *Report) error {
	users := j.DB.Collection(usermodel.UserTableName)
	msgs := j.DB.Collection(chatmodel.MessageTableName)
	groups := j.DB.Collection(usermodel.GroupTableName)

	senderVals, err := msgs.Distinct(ctx, "sender_id", bson.M{})
	if err != nil {
		return err
	}
	known, err := knownUserSet(ctx, users, senderVals)
	if err != nil {
		return err
	}
	var missing []string
	for _, v := range senderVals {
		if id, ok := v.(string); ok {
			if _, found := known[id]; !found {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		n, err := msgs.CountDocuments(ctx, bson.M{"sender_id": bson.M{"$in": missing}})
		if err != nil {
			return err
		}
		rep.OrphanMsgs = n
	}

	cur, err := groups.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var g usermodel.Group
		if err := cur.Decode(&g); err != nil {
			continue
		}
		memberKnown, err := knownUserSet(ctx, users, toAny(g.MemberIDs))
		if err != nil {
			return err
		}
		for _, m := range g.MemberIDs {
			if _, found := memberKnown[m]; !found {
				rep.OrphanGroups++
				break
			}
		}
	}
	return cur.Err()
}

// (6) 体量与碎片率报表，供运维观察
func (j *Job) stepStats(ctx context.Context, rep *Report) error {
	for _, name := range j.collections() {
		var out struct {
			Size        int64 `bson:"size"`
			StorageSize int64 `bson:"storageSize"`
			Count       int64 `bson:"count"`
		}
		res := j.DB.RunCommand(ctx, bson.D{{Key: "collStats", Value: name}})
		if err := res.Err(); err != nil {
			logger.Warn("collStats failed", zap.String("collection", name), zap.Error(err))
			rep.StepErrors["stats:"+name] = err.Error()
			continue
		}
		if err := res.Decode(&out); err != nil {
			rep.StepErrors["stats:"+name] = err.Error()
			continue
		}
		rep.Collections = append(rep.Collections, CollectionStats{
			Name:          name,
			SizeBytes:     out.Size,
			StorageBytes:  out.StorageSize,
			DocumentCount: out.Count,
			Fragmentation: Fragmentation(out.Size, out.StorageSize),
		})
	}
	return nil
}

// Fragmentation storage/size；空集合记 1（无碎片）
func Fragmentation(sizeBytes, storageBytes int64) float64 {
	if sizeBytes <= 0 {
		return 1
	}
	return float64(storageBytes) / float64(sizeBytes)
}

func knownUserSet(ctx context.Context, users *mongo.Collection, idVals []any) (map[string]struct{}, error) {
	if len(idVals) == 0 {
		return map[string]struct{}{}, nil
	}
	cur, err := users.Find(ctx, bson.M{"_id": bson.M{"$in": idVals}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make(map[string]struct{})
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err == nil {
			out[doc.ID] = struct{}{}
		}
	}
	return out, cur.Err()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// onlyDuplicateKeys InsertMany(ordered=false) 重跑时的重复键视作成功
func onlyDuplicateKeys(err error) bool {
	bwe, ok := err.(mongo.BulkWriteException)
	if !ok {
		return mongo.IsDuplicateKeyError(err)
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return bwe.WriteConcernError == nil
}
