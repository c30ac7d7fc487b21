package fetch

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mobilemkch/mkchd/internal/cache"
	"github.com/mobilemkch/mkchd/internal/config"
	"github.com/mobilemkch/mkchd/internal/imageboard"
	"github.com/mobilemkch/mkchd/internal/logging"
)

var (
	// ErrOfflineNoData 表示处于离线状态且缓存中没有任何可用数据。
	ErrOfflineNoData = errors.New("offline and no cached data")
	// ErrOffline 表示离线状态下无法执行需要网络的操作（发帖、检查新线程）。
	ErrOffline = errors.New("offline")
)

// Upstream 是编排层依赖的上游 API。
type Upstream interface {
	Boards(ctx context.Context) ([]imageboard.Board, error)
	Threads(ctx context.Context, board string) ([]imageboard.Thread, error)
	ThreadDetail(ctx context.Context, board string, threadID int) (imageboard.ThreadDetail, error)
	Comments(ctx context.Context, board string, threadID int) ([]imageboard.Comment, error)
	CreateThread(ctx context.Context, board string, thread imageboard.NewThread) error
	AddComment(ctx context.Context, board string, threadID int, comment imageboard.NewComment) error
}

// Cache 是编排层使用的缓存操作子集，由 *cache.Cache 实现。
type Cache interface {
	Get(ctx context.Context, key string, out any) bool
	GetStale(ctx context.Context, key string, out any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// OfflineReporter 提供有效离线状态，由 reachability.Monitor 实现。
type OfflineReporter interface {
	EffectiveOffline() bool
}

// SeenStore 记录每个版块已见过的线程，用于检查新线程。
type SeenStore interface {
	Get(key string, out any) bool
	Set(key string, value any) error
}

// Options 汇总 Orchestrator 的依赖。
type Options struct {
	Upstream Upstream
	Cache    Cache
	Offline  OfflineReporter
	Seen     SeenStore
	TTL      config.TTLConfig
	Logger   *logrus.Logger
}

// Orchestrator 决定每次读取走缓存、网络还是过期数据兜底。
// 它本身不持有缓存状态，只调用 Cache。
type Orchestrator struct {
	upstream Upstream
	cache    Cache
	offline  OfflineReporter
	seen     SeenStore
	ttl      ttlTable
	logger   *logrus.Logger
}

// Result 携带读取结果及其来源。
type Result[T any] struct {
	Value  T
	Source Source
}

// New 构建 Orchestrator。
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Orchestrator{
		upstream: opts.Upstream,
		cache:    opts.Cache,
		offline:  opts.Offline,
		seen:     opts.Seen,
		ttl:      newTTLTable(opts.TTL),
		logger:   logger,
	}
}

// Boards 获取版块列表。
func (o *Orchestrator) Boards(ctx context.Context, forceReload bool) (Result[[]imageboard.Board], error) {
	return load(ctx, o, ResourceBoards, cache.BoardsKey(), forceReload, isEmptyList[imageboard.Board],
		func(ctx context.Context) ([]imageboard.Board, error) {
			return o.upstream.Boards(ctx)
		}, nil)
}

// Threads 获取版块线程列表，网络结果按置顶、评分、创建时间排序后缓存。
func (o *Orchestrator) Threads(ctx context.Context, board string, forceReload bool) (Result[[]imageboard.Thread], error) {
	return load(ctx, o, ResourceThreads, cache.ThreadsKey(board), forceReload, isEmptyList[imageboard.Thread],
		func(ctx context.Context) ([]imageboard.Thread, error) {
			return o.upstream.Threads(ctx, board)
		}, SortThreads)
}

// ThreadDetail 获取线程详情。
func (o *Orchestrator) ThreadDetail(ctx context.Context, board string, threadID int, forceReload bool) (Result[imageboard.ThreadDetail], error) {
	return load(ctx, o, ResourceThreadDetail, cache.ThreadDetailKey(threadID), forceReload, nil,
		func(ctx context.Context) (imageboard.ThreadDetail, error) {
			return o.upstream.ThreadDetail(ctx, board, threadID)
		}, nil)
}

// Comments 获取线程评论。
func (o *Orchestrator) Comments(ctx context.Context, board string, threadID int, forceReload bool) (Result[[]imageboard.Comment], error) {
	return load(ctx, o, ResourceComments, cache.CommentsKey(threadID), forceReload, isEmptyList[imageboard.Comment],
		func(ctx context.Context) ([]imageboard.Comment, error) {
			return o.upstream.Comments(ctx, board, threadID)
		}, nil)
}

// CreateThread 发帖成功后使版块线程列表缓存失效。
func (o *Orchestrator) CreateThread(ctx context.Context, board string, thread imageboard.NewThread) error {
	if o.offline.EffectiveOffline() {
		return ErrOffline
	}
	if err := o.upstream.CreateThread(ctx, board, thread); err != nil {
		return err
	}
	key := cache.ThreadsKey(board)
	o.cache.Delete(ctx, key)
	o.logger.WithFields(logrus.Fields{"action": "invalidate", "key": key}).Info("线程已创建，列表缓存已失效")
	return nil
}

// AddComment 回复成功后使该线程的评论缓存失效。
func (o *Orchestrator) AddComment(ctx context.Context, board string, threadID int, comment imageboard.NewComment) error {
	if o.offline.EffectiveOffline() {
		return ErrOffline
	}
	if err := o.upstream.AddComment(ctx, board, threadID, comment); err != nil {
		return err
	}
	key := cache.CommentsKey(threadID)
	o.cache.Delete(ctx, key)
	o.logger.WithFields(logrus.Fields{"action": "invalidate", "key": key}).Info("评论已发送，评论缓存已失效")
	return nil
}

// load 实现统一的读取策略：
// 离线 -> 过期数据或 ErrOfflineNoData；有效缓存且未强制刷新 -> 缓存；
// 否则请求网络，成功后规范化并写缓存，失败时回退到过期数据或返回原始错误。
func load[T any](
	ctx context.Context,
	o *Orchestrator,
	resource Resource,
	key string,
	forceReload bool,
	isEmpty func(T) bool,
	fetch func(context.Context) (T, error),
	normalize func(T) T,
) (Result[T], error) {
	if o.offline.EffectiveOffline() {
		if value, ok := staleValue(ctx, o, key, isEmpty); ok {
			o.logger.WithFields(logging.FetchFields(string(resource), key, string(SourceStale), true)).
				Debug("离线模式，返回缓存数据")
			return Result[T]{Value: value, Source: SourceStale}, nil
		}
		o.logger.WithFields(logging.FetchFields(string(resource), key, "", true)).Warn("offline_no_data")
		return Result[T]{}, ErrOfflineNoData
	}

	if !forceReload {
		var cached T
		if o.cache.Get(ctx, key, &cached) {
			return Result[T]{Value: cached, Source: SourceCache}, nil
		}
	}

	value, err := fetch(ctx)
	if err != nil {
		if stale, ok := staleValue(ctx, o, key, isEmpty); ok {
			o.logger.WithError(err).WithFields(logging.FetchFields(string(resource), key, string(SourceStale), false)).
				Warn("stale_fallback")
			return Result[T]{Value: stale, Source: SourceStale}, nil
		}
		o.logger.WithError(err).WithFields(logging.FetchFields(string(resource), key, "", false)).
			Warn("fetch_failed")
		return Result[T]{}, err
	}

	if normalize != nil {
		value = normalize(value)
	}
	o.cache.Set(ctx, key, value, o.ttl[resource])
	o.logger.WithFields(logging.FetchFields(string(resource), key, string(SourceNetwork), false)).
		Debug("已从网络获取")
	return Result[T]{Value: value, Source: SourceNetwork}, nil
}

func staleValue[T any](ctx context.Context, o *Orchestrator, key string, isEmpty func(T) bool) (T, bool) {
	var stale T
	if !o.cache.GetStale(ctx, key, &stale) {
		return stale, false
	}
	if isEmpty != nil && isEmpty(stale) {
		return stale, false
	}
	return stale, true
}

func isEmptyList[E any](list []E) bool {
	return len(list) == 0
}

// SortThreads 按置顶优先、评分降序、创建时间降序排序，排序稳定。
func SortThreads(threads []imageboard.Thread) []imageboard.Thread {
	sorted := make([]imageboard.Thread, len(threads))
	copy(sorted, threads)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.IsPinned() != b.IsPinned() {
			return a.IsPinned()
		}
		if a.RatingValue() != b.RatingValue() {
			return a.RatingValue() > b.RatingValue()
		}
		return a.CreationTime().After(b.CreationTime())
	})
	return sorted
}
