package routes

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mobilemkch/mkchd/internal/cache"
	"github.com/mobilemkch/mkchd/internal/fetch"
	"github.com/mobilemkch/mkchd/internal/reachability"
	"github.com/mobilemkch/mkchd/internal/server"
	"github.com/mobilemkch/mkchd/internal/version"
)

// Diagnostics 汇总诊断接口需要的运行时组件。
type Diagnostics struct {
	Logger       *logrus.Logger
	Monitor      *reachability.Monitor
	Cache        *cache.Cache
	Orchestrator *fetch.Orchestrator
}

// RegisterDiagnosticsRoutes 暴露 /-/ 诊断接口：可达性、缓存状态、资源表，
// 以及离线开关与缓存清理操作。
func RegisterDiagnosticsRoutes(app *fiber.App, d Diagnostics) {
	if app == nil || d.Monitor == nil || d.Cache == nil || d.Orchestrator == nil {
		return
	}
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version":      version.Full(),
			"reachability": d.Monitor.State(),
			"cache":        encodeCacheStats(d.Cache.Stats()),
		})
	})

	app.Get("/-/resources", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"resources": encodeResources(d.Orchestrator.Resources())})
	})

	app.Put("/-/offline", func(c fiber.Ctx) error {
		var req offlineRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil || req.ForceOffline == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "bad_request",
				"message": "force_offline (bool) required",
			})
		}
		if err := d.Monitor.SetForceOffline(*req.ForceOffline); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "force_offline",
				"request_id": server.RequestID(c),
			}).Error("force_offline_persist_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "persist_failed",
				"message": err.Error(),
			})
		}
		return c.JSON(d.Monitor.State())
	})

	app.Post("/-/cache/sweep", func(c fiber.Ctx) error {
		result := d.Cache.Sweep(c.Context())
		return c.JSON(fiber.Map{"memory_evicted": result.Memory, "disk_evicted": result.Disk})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		d.Cache.Clear(c.Context())
		logger.WithFields(logrus.Fields{"action": "cache_clear", "request_id": server.RequestID(c)}).
			Info("缓存已清空")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/-/cache/:key", func(c fiber.Ctx) error {
		key := strings.TrimSpace(c.Params("key"))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_key_required"})
		}
		d.Cache.Delete(c.Context(), key)
		return c.SendStatus(fiber.StatusNoContent)
	})
}

type offlineRequest struct {
	ForceOffline *bool `json:"force_offline"`
}

type cacheStatsPayload struct {
	MemoryEntries        int   `json:"memory_entries"`
	SweepIntervalSeconds int64 `json:"sweep_interval_seconds"`
}

type resourcePayload struct {
	Name       string `json:"name"`
	Key        string `json:"key"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func encodeCacheStats(stats cache.Stats) cacheStatsPayload {
	return cacheStatsPayload{
		MemoryEntries:        stats.MemoryEntries,
		SweepIntervalSeconds: int64(stats.SweepInterval / time.Second),
	}
}

func encodeResources(resources []fetch.ResourceInfo) []resourcePayload {
	if len(resources) == 0 {
		return nil
	}
	result := make([]resourcePayload, 0, len(resources))
	for _, info := range resources {
		result = append(result, resourcePayload{
			Name:       string(info.Name),
			Key:        info.Key,
			TTLSeconds: int64(info.TTL / time.Second),
		})
	}
	return result
}
