package cache

import "fmt"

// Key 前缀决定 payload 的结构，同一前缀下只允许写入同一种类型。
const (
	PrefixBoards       = "boards"
	PrefixThreads      = "threads_"
	PrefixThreadDetail = "thread_detail_"
	PrefixComments     = "comments_"
)

// BoardsKey 返回版块列表的缓存 key。
func BoardsKey() string {
	return PrefixBoards
}

// ThreadsKey 返回某个版块线程列表的缓存 key。
func ThreadsKey(board string) string {
	return PrefixThreads + board
}

// ThreadDetailKey 返回线程详情的缓存 key。
func ThreadDetailKey(threadID int) string {
	return fmt.Sprintf("%s%d", PrefixThreadDetail, threadID)
}

// CommentsKey 返回线程评论列表的缓存 key。
func CommentsKey(threadID int) string {
	return fmt.Sprintf("%s%d", PrefixComments, threadID)
}
