package fetch

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/mobilemkch/mkchd/internal/imageboard"
)

// savedThreadsPrefix 是已见线程列表在偏好存储中的 key 前缀。
const savedThreadsPrefix = "savedThreads_"

// FullThread 是线程详情与评论的组合。
type FullThread struct {
	Thread         imageboard.ThreadDetail `json:"thread"`
	Comments       []imageboard.Comment    `json:"comments"`
	ThreadSource   Source                  `json:"thread_source"`
	CommentsSource Source                  `json:"comments_source"`
}

// FullThread 并发获取详情与评论，各自走独立的缓存策略；详情错误优先返回。
func (o *Orchestrator) FullThread(ctx context.Context, board string, threadID int, forceReload bool) (FullThread, error) {
	var (
		detail      Result[imageboard.ThreadDetail]
		comments    Result[[]imageboard.Comment]
		detailErr   error
		commentsErr error
		wg          conc.WaitGroup
	)
	wg.Go(func() {
		detail, detailErr = o.ThreadDetail(ctx, board, threadID, forceReload)
	})
	wg.Go(func() {
		comments, commentsErr = o.Comments(ctx, board, threadID, forceReload)
	})
	wg.Wait()

	if detailErr != nil {
		return FullThread{}, detailErr
	}
	if commentsErr != nil {
		return FullThread{}, commentsErr
	}
	list := comments.Value
	if list == nil {
		list = []imageboard.Comment{}
	}
	return FullThread{
		Thread:         detail.Value,
		Comments:       list,
		ThreadSource:   detail.Source,
		CommentsSource: comments.Source,
	}, nil
}

// CheckNewThreads 绕过缓存直接拉取线程列表，与上次记录的线程 ID 比较。
// 首次同步只记录不报告；每次成功后都会覆盖记录。
func (o *Orchestrator) CheckNewThreads(ctx context.Context, board string) ([]imageboard.Thread, error) {
	if o.offline.EffectiveOffline() {
		return nil, ErrOffline
	}
	current, err := o.upstream.Threads(ctx, board)
	if err != nil {
		return nil, err
	}

	key := savedThreadsPrefix + board
	fresh := []imageboard.Thread{}
	var seen []int
	if o.seen.Get(key, &seen) {
		known := make(map[int]struct{}, len(seen))
		for _, id := range seen {
			known[id] = struct{}{}
		}
		for _, thread := range current {
			if _, ok := known[thread.ID]; !ok {
				fresh = append(fresh, thread)
			}
		}
		if len(fresh) > 0 {
			o.logger.WithFields(logrus.Fields{"action": "check_new_threads", "board": board, "count": len(fresh)}).
				Info("发现新线程")
		}
	} else {
		o.logger.WithFields(logrus.Fields{"action": "check_new_threads", "board": board, "count": len(current)}).
			Info("首次同步，记录当前线程")
	}

	ids := make([]int, 0, len(current))
	for _, thread := range current {
		ids = append(ids, thread.ID)
	}
	if err := o.seen.Set(key, ids); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{"action": "check_new_threads", "board": board}).
			Warn("seen_threads_persist_failed")
	}
	return fresh, nil
}
