// Package settings 提供文件持久化的偏好存储（离线开关、已见线程等）
// 以及基于它的客户端设置与收藏夹。
package settings
