/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command orchestrator wires every subsystem behind the HTTP surface:
// task intake and dispatch, internal-component health/routing, policy
// budgets, constitutional arbitration, and the Kubernetes/Slack/storage
// collaborator bindings, per spec.md §6.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/darianrosebrook/agent-agency/internal/config"
	"github.com/darianrosebrook/agent-agency/pkg/agent"
	"github.com/darianrosebrook/agent-agency/pkg/api"
	"github.com/darianrosebrook/agent-agency/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency/pkg/coordinator"
	"github.com/darianrosebrook/agent-agency/pkg/dispatch"
	"github.com/darianrosebrook/agent-agency/pkg/infra"
	"github.com/darianrosebrook/agent-agency/pkg/notify"
	"github.com/darianrosebrook/agent-agency/pkg/policy"
	"github.com/darianrosebrook/agent-agency/pkg/resilience"
	"github.com/darianrosebrook/agent-agency/pkg/rules"
	"github.com/darianrosebrook/agent-agency/pkg/storage"
	"github.com/darianrosebrook/agent-agency/pkg/task"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the orchestrator's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	configureLogging(cfg.Logging)
	log := logrus.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: uint32(cfg.Orchestrator.FailureThreshold),
		RecoveryTimeout:  cfg.Orchestrator.RecoveryTimeout,
	})
	rateLimiter := buildRateLimiter(cfg.Redis, cfg.RateLimit, log)

	infraController := buildInfraController(cfg.Kubernetes, log, breakers)
	notifier := buildNotifier(cfg.Slack, log, breakers)
	store := buildStore(ctx, cfg.Postgres, log, breakers)

	policyLoader := &policy.FileLoader{ProjectRoot: cfg.Policy.ProjectRoot}
	policyStore := policy.NewStore(policyLoader, cfg.Policy.CacheTTL)
	if err := policyStore.Watch(cfg.Policy.ProjectRoot); err != nil {
		log.WithError(err).Warn("policy file watcher unavailable, falling back to TTL-only caching")
	}
	defer policyStore.Close()
	budgetEngine := policy.NewEngine(policyStore)

	bus := coordinator.NewEventBus()
	metricsRegistry := prometheus.NewRegistry()
	metrics := api.NewMetricsWithRegistry(metricsRegistry)
	bus.Subscribe(func(ev coordinator.Event) { metrics.RecordEvent(ev.Name, ev.Data) })
	budgetMonitor := policy.NewBudgetMonitor(coordinator.EventBusNotifier{Bus: bus})

	modules := rules.DefaultModules()
	evaluator := rules.NewEvaluator()
	evaluator.Breaker = breakers
	ruleIDs := make([]string, 0, len(modules))
	for _, m := range modules {
		if err := evaluator.Register(m); err != nil {
			log.WithError(err).WithField("rule", m.ID).Fatal("failed to compile constitutional rule module")
		}
		ruleIDs = append(ruleIDs, m.ID)
	}

	precedents := arbitration.NewStore()
	arbitrationEngine := arbitration.NewEngine(arbitration.Config{
		MinConfidenceForApproval: cfg.Arbitration.MinConfidenceForApproval,
		AllowConditional:         cfg.Arbitration.AllowConditional,
		RequirePrecedents:        cfg.Arbitration.RequirePrecedents,
		MinReasoningSteps:        cfg.Arbitration.MinReasoningSteps,
		MinSimilarityScore:       cfg.Arbitration.MinSimilarityScore,
	}, evaluator, precedents)

	agentPool := agent.NewPool()

	checker := &coordinator.HTTPHealthChecker{Client: &http.Client{Timeout: cfg.HTTP.Timeout}, Breaker: breakers}
	coord := coordinator.New(checker, infraController, notifier, cfg.Orchestrator.HealthCheckInterval)
	coord.Bus.Subscribe(func(ev coordinator.Event) { bus.Publish(ev) })

	dispatchSvc := dispatch.NewService(task.NewQueue(0), agentPool, budgetEngine, budgetMonitor, &cfg.Intake, budgetEngine, arbitrationEngine, ruleIDs)

	server := api.NewServer(dispatchSvc, coord, metrics, rateLimiter)

	var wg stoppableGroup
	wg.Go(func() { coord.Run(ctx) })
	wg.Go(func() { dispatchSvc.RunDispatchLoop(time.Second, ctx.Done()) })

	apiSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: server.Router(allowedOrigins(cfg))}
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})}

	wg.Go(func() { serveUntilShutdown(ctx, apiSrv, log, "api") })
	wg.Go(func() { serveUntilShutdown(ctx, metricsSrv, log, "metrics") })

	log.WithField("listen", cfg.Server.ListenAddr).WithField("metrics", cfg.Server.MetricsAddr).Info("orchestrator started")
	<-ctx.Done()
	log.Info("shutdown signal received, draining")
	wg.Wait()

	if err := store.AppendAudit(context.Background(), storage.AuditRecord{
		Subject: "orchestrator", Action: "shutdown", Actor: "main",
	}); err != nil {
		log.WithError(err).Warn("failed to append shutdown audit record")
	}
}

func configureLogging(cfg config.LoggingConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

func allowedOrigins(cfg *config.Config) []string {
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		return []string{origins}
	}
	return []string{"*"}
}

// buildInfraController binds pkg/infra to a real cluster when enabled,
// preferring in-cluster credentials and falling back to a kubeconfig
// file for local/dev use. A disabled or unreachable cluster leaves
// recovery actions unavailable rather than failing startup.
func buildInfraController(cfg config.KubernetesConfig, log *logrus.Logger, breakers *resilience.BreakerRegistry) coordinator.InfrastructureController {
	if !cfg.Enabled {
		return nil
	}
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	}
	if err != nil {
		log.WithError(err).Warn("kubernetes config unavailable, infrastructure controller disabled")
		return nil
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		log.WithError(err).Warn("kubernetes client construction failed, infrastructure controller disabled")
		return nil
	}
	ctrl := infra.NewController(client, &infra.StaticLocator{Ns: cfg.Namespace})
	ctrl.Breaker = breakers
	return ctrl
}

func buildNotifier(cfg config.SlackConfig, log *logrus.Logger, breakers *resilience.BreakerRegistry) coordinator.IncidentNotifier {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Token == "" {
		log.Warn("slack enabled with no token configured, incident notifier disabled")
		return nil
	}
	client := &notify.SlackClient{Client: slack.New(cfg.Token)}
	notifier := notify.NewNotifier(client, cfg.Channel, cfg.OnCallIDs)
	notifier.Breaker = breakers
	return notifier
}

func buildStore(ctx context.Context, cfg config.PostgresConfig, log *logrus.Logger, breakers *resilience.BreakerRegistry) storage.Store {
	if cfg.DSN == "" {
		return storage.NewMemoryStore()
	}
	db, err := storage.Open(ctx, cfg.DSN)
	if err != nil {
		log.WithError(err).Warn("postgres unavailable, falling back to the in-memory store")
		return storage.NewMemoryStore()
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleSecs) * time.Second)
	store := storage.NewPostgresStore(db)
	store.Breaker = breakers
	return store
}

func buildRateLimiter(redisCfg config.RedisConfig, rlCfg config.RateLimitConfig, log *logrus.Logger) *resilience.RateLimiter {
	client := redis.NewClient(&redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password, DB: redisCfg.DB})
	return resilience.NewRateLimiter(client, resilience.RateLimiterConfig{
		RequestsPerMinute: rlCfg.RequestsPerMinute,
		BackoffMultiplier: rlCfg.BackoffMultiplier,
		MaxBackoffMs:      rlCfg.MaxBackoffMs,
	})
}

func serveUntilShutdown(ctx context.Context, srv *http.Server, log *logrus.Logger, name string) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).WithField("server", name).Warn("graceful shutdown failed")
		}
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).WithField("server", name).Error("server exited unexpectedly")
	}
}

// stoppableGroup runs a set of goroutines and waits for all of them,
// wrapping a sync.WaitGroup so each call site above is a single Go call.
type stoppableGroup struct {
	wg sync.WaitGroup
}

func (g *stoppableGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *stoppableGroup) Wait() { g.wg.Wait() }
