package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpwarden/warden/pkg/audit"
	"github.com/mcpwarden/warden/pkg/config"
	"github.com/mcpwarden/warden/pkg/detect"
	"github.com/mcpwarden/warden/pkg/httputil"
	"github.com/mcpwarden/warden/pkg/patterns"
	"github.com/mcpwarden/warden/pkg/report"
	"github.com/mcpwarden/warden/pkg/reputation"
	"github.com/mcpwarden/warden/pkg/sandbox"
	"github.com/mcpwarden/warden/pkg/store"
)

const Version = "0.1.0"

// engine bundles the long-lived components behind the HTTP surface.
type engine struct {
	cfg      *config.Config
	detector *detect.Detector
	ledger   *reputation.Ledger
	manager  *sandbox.Manager
	mw       *sandbox.Middleware
	reports  *report.Generator
	audit    *audit.Logger
	redis    *store.RedisStore
}

func newEngine(cfg *config.Config) *engine {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	catalog := patterns.DefaultCatalog()
	if cfg.PatternPackPath != "" {
		n, err := catalog.LoadPack(cfg.PatternPackPath)
		if err != nil {
			log.Printf("[WARN] pattern pack %s not loaded: %v", cfg.PatternPackPath, err)
		} else {
			log.Printf("[STARTUP] loaded %d patterns from %s", n, cfg.PatternPackPath)
		}
	}

	detector := detect.New(catalog, detect.Config{
		Threshold:        cfg.DetectThreshold,
		MaxContextLength: cfg.MaxContextLength,
		EnableHeuristics: cfg.EnableHeuristics,
		CacheSize:        cfg.ScanCacheSize,
	})

	var st store.Store
	var rs *store.RedisStore
	if cfg.RedisAddr != "" {
		rs = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.PersistTimeout)
		if err := rs.Ping(context.Background()); err != nil {
			log.Printf("[WARN] redis at %s unreachable, running without snapshots: %v", cfg.RedisAddr, err)
			_ = rs.Close()
			rs = nil
		} else {
			st = rs
			log.Printf("[STARTUP] redis snapshot store connected (%s)", cfg.RedisAddr)
		}
	}
	if st == nil {
		st = store.NewMemoryStore()
		log.Println("[STARTUP] using in-memory snapshot store")
	}

	auditLog, err := audit.New(context.Background(), cfg.PostgresDSN, cfg.PersistTimeout)
	if err != nil {
		log.Printf("[WARN] audit log disabled: %v", err)
		auditLog = audit.NewDisabled()
	}
	if !auditLog.Disabled() {
		if err := auditLog.EnsureSchema(context.Background()); err != nil {
			log.Printf("[WARN] audit schema: %v", err)
		} else {
			log.Println("[STARTUP] postgres audit log connected")
		}
	}

	ledger := reputation.NewLedger(cfg, st, auditLog)
	manager := sandbox.NewManager(cfg, st, auditLog)

	return &engine{
		cfg:      cfg,
		detector: detector,
		ledger:   ledger,
		manager:  manager,
		mw:       sandbox.NewMiddleware(detector, manager, ledger),
		reports:  report.NewGenerator(cfg, manager, ledger),
		audit:    auditLog,
		redis:    rs,
	}
}

func (e *engine) close() {
	e.audit.Close()
	if e.redis != nil {
		_ = e.redis.Close()
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cfg := config.NewDefaultConfig()
		if len(os.Args) > 2 {
			cfg.ListenAddr = ":" + strings.TrimPrefix(os.Args[2], ":")
		}
		runServer(cfg)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: warden scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "report":
		runCLIReport()
	case "version":
		fmt.Printf("warden v%s\n", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("warden v%s - security policy and sandbox enforcement for managed MCP servers\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  warden serve [port]   Start the enforcement server (default: 3000)")
	fmt.Println("  warden scan <text>    Scan text for prompt injection")
	fmt.Println("  warden report         Print a threat report for the default window")
	fmt.Println("  warden version        Show version")
	fmt.Println("")
	fmt.Println("Environment variables: WARDEN_LISTEN_ADDR, WARDEN_DETECT_THRESHOLD,")
	fmt.Println("  WARDEN_PATTERN_PACK, WARDEN_REDIS_ADDR, WARDEN_POSTGRES_DSN, ...")
}

func runCLIScan(text string) {
	detector := detect.New(patterns.DefaultCatalog(), detect.NewDefaultConfig())
	result := detector.Detect(text)
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func runCLIReport() {
	e := newEngine(config.NewDefaultConfig())
	defer e.close()
	fmt.Print(e.reports.Generate(0).RenderText())
}

func runServer(cfg *config.Config) {
	e := newEngine(cfg)
	defer e.close()

	app := fiber.New(fiber.Config{
		AppName: "Warden",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	registerScanRoutes(app, e)
	registerReputationRoutes(app, e)
	registerSandboxRoutes(app, e)
	registerReportRoutes(app, e)
	registerProxyRoutes(app, e)

	log.Printf("[STARTUP] warden v%s listening on %s", Version, cfg.ListenAddr)
	log.Printf("[STARTUP] detector: threshold=%.2f heuristics=%v patterns=%d",
		cfg.DetectThreshold, cfg.EnableHeuristics, e.detector.Catalog().Len())

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

func registerScanRoutes(app *fiber.App, e *engine) {
	app.Post("/scan", func(c fiber.Ctx) error {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text field is required"})
		}
		return c.JSON(e.detector.Detect(req.Text))
	})
}

func registerReputationRoutes(app *fiber.App, e *engine) {
	app.Post("/events", func(c fiber.Ctx) error {
		var event reputation.SecurityEvent
		if err := c.Bind().Body(&event); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if event.ServerID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "server_id is required"})
		}
		outcome := e.mw.ProcessSecurityEvent(c.Context(), event)
		score, _ := e.ledger.Get(event.ServerID)
		return c.JSON(fiber.Map{
			"outcome": outcome,
			"score":   score,
		})
	})

	app.Get("/servers/:id/reputation", func(c fiber.Ctx) error {
		score, ok := e.ledger.Get(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "server not known to the ledger"})
		}
		return c.JSON(score)
	})

	app.Get("/servers/:id/risk", func(c fiber.Ctx) error {
		return c.JSON(e.ledger.EvaluateRisk(c.Params("id")))
	})

	app.Post("/servers/:id/mitigate", func(c fiber.Ctx) error {
		var req struct {
			RiskType string `json:"risk_type"`
			Notes    string `json:"notes"`
		}
		if err := c.Bind().Body(&req); err != nil || req.RiskType == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "risk_type is required"})
		}
		ok, err := e.ledger.Mitigate(c.Context(), c.Params("id"), req.RiskType, req.Notes)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no unmitigated risk factor of that type"})
		}
		return c.JSON(e.ledger.EvaluateRisk(c.Params("id")))
	})
}

func registerSandboxRoutes(app *fiber.App, e *engine) {
	app.Get("/sandbox", func(c fiber.Ctx) error {
		return c.JSON(e.manager.Active())
	})

	app.Get("/sandbox/:id", func(c fiber.Ctx) error {
		s, ok := e.manager.GetSandboxedServer(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "server is not sandboxed"})
		}
		return c.JSON(s)
	})

	app.Post("/sandbox/:id", func(c fiber.Ctx) error {
		var req struct {
			ServerName string `json:"server_name"`
			Level      string `json:"level"`
			Reason     string `json:"reason"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		id := c.Params("id")
		if req.ServerName == "" {
			req.ServerName = id
		}
		s, err := e.manager.SandboxServer(c.Context(), id, req.ServerName, sandbox.Level(req.Level), req.Reason)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(s)
	})

	app.Post("/sandbox/:id/status", func(c fiber.Ctx) error {
		var req struct {
			Status string `json:"status"`
		}
		if err := c.Bind().Body(&req); err != nil || req.Status == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status is required"})
		}
		if !e.manager.SetStatus(c.Context(), c.Params("id"), sandbox.Status(req.Status)) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status change rejected"})
		}
		s, _ := e.manager.GetSandboxedServer(c.Params("id"))
		return c.JSON(s)
	})

	app.Post("/sandbox/:id/release", func(c fiber.Ctx) error {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = c.Bind().Body(&req)
		if !e.manager.Release(c.Context(), c.Params("id"), req.Reason) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "server is not actively sandboxed"})
		}
		return c.JSON(fiber.Map{"released": true})
	})
}

func registerReportRoutes(app *fiber.App, e *engine) {
	app.Get("/report", func(c fiber.Ctx) error {
		window := time.Duration(0)
		if h := fiber.Query[int](c, "window_hours"); h > 0 {
			window = time.Duration(h) * time.Hour
		}
		r := e.reports.Generate(window)
		if c.Query("format") == "text" {
			c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
			return c.SendString(r.RenderText())
		}
		return c.JSON(r)
	})
}

// registerProxyRoutes mounts the enforcement path. Traffic to
// /proxy/:server/* is inspected, forwarded to the upstream named in the
// X-Warden-Upstream header, and the response inspected on the way back.
func registerProxyRoutes(app *fiber.App, e *engine) {
	proxy := app.Group("/proxy/:server", e.mw.Handler())

	proxy.All("/*", func(c fiber.Ctx) error {
		upstream := c.Get("X-Warden-Upstream")
		if upstream == "" {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "no upstream configured for this server",
			})
		}

		url := strings.TrimSuffix(upstream, "/") + "/" + c.Params("*")
		req, err := http.NewRequestWithContext(c.Context(), c.Method(), url,
			strings.NewReader(string(c.Body())))
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "invalid upstream request"})
		}
		req.Header.Set("Content-Type", c.Get("Content-Type"))

		resp, err := httputil.Client(httputil.TierProxy).Do(req)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream unreachable"})
		}
		defer httputil.DrainAndClose(resp.Body)

		limit := int64(httputil.MaxResponseSize)
		if s, ok := e.manager.GetSandboxedServer(c.Params("server")); ok && s.Enforcing() {
			// Read one byte past the sandbox limit so the response inspector
			// sees the overflow and records the violation.
			limit = int64(s.Restrictions.MemoryLimitMB)<<20 + 1
		}
		body, err := httputil.ReadBody(resp.Body, limit)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream read failed"})
		}

		c.Set(fiber.HeaderContentType, resp.Header.Get("Content-Type"))
		return c.Status(resp.StatusCode).Send(body)
	})
}
