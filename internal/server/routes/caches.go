package routes

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/engine"
)

// RegisterCacheRoutes 暴露 /-/ 诊断接口：缓存代列表、单个缓存代的 key、健康检查与 Prometheus 指标。
func RegisterCacheRoutes(app *fiber.App, eng *engine.Engine) {
	if app == nil || eng == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"state":   eng.State(),
			"claimed": eng.Claimed(),
		})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/-/caches", func(c fiber.Ctx) error {
		names, err := eng.Storage().Keys(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		if names == nil {
			names = []string{}
		}
		return c.JSON(generationsPayload{
			Current:     eng.CacheName(),
			Generations: names,
			State:       string(eng.State()),
			SkipWaiting: eng.SkipWaiting(),
			Claimed:     eng.Claimed(),
			Precache:    eng.Manifest(),
			Origin:      eng.Origin(),
		})
	})

	app.Get("/-/caches/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_name_required"})
		}
		keys, err := generationKeys(c, eng.Storage(), name)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_not_found"})
		case errors.Is(err, cache.ErrInvalidName):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_name_invalid"})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_keys_failed"})
		}
		return c.JSON(generationPayload{Name: name, Current: name == eng.CacheName(), Entries: keys})
	})
}

type generationsPayload struct {
	Current     string   `json:"current"`
	Generations []string `json:"generations"`
	State       string   `json:"state"`
	SkipWaiting bool     `json:"skip_waiting"`
	Claimed     bool     `json:"claimed"`
	Precache    []string `json:"precache"`
	Origin      string   `json:"origin"`
}

type generationPayload struct {
	Name    string       `json:"name"`
	Current bool         `json:"current"`
	Entries []keyPayload `json:"entries"`
}

type keyPayload struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// generationKeys 只读取已存在的缓存代；Open 会隐式创建，因此先用 Keys 判断。
func generationKeys(c fiber.Ctx, storage cache.Storage, name string) ([]keyPayload, error) {
	ctx := c.Context()
	names, err := storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, existing := range names {
		if existing == name {
			found = true
			break
		}
	}
	if !found {
		return nil, cache.ErrNotFound
	}

	gen, err := storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	keys, err := gen.Keys(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]keyPayload, 0, len(keys))
	for _, key := range keys {
		result = append(result, keyPayload{Method: key.Method, URL: key.URL})
	}
	return result, nil
}
