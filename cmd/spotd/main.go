package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/spotlabs/spot-sagas/internal/httpx"
	orderbridge "github.com/spotlabs/spot-sagas/internal/order/bridge"
	ordersqlite "github.com/spotlabs/spot-sagas/internal/order/store/sqlite"
	ordersaga "github.com/spotlabs/spot-sagas/internal/order/workflow"
	"github.com/spotlabs/spot-sagas/internal/outbox"
	outboxsqlite "github.com/spotlabs/spot-sagas/internal/outbox/sqlite"
	paybridge "github.com/spotlabs/spot-sagas/internal/payment/bridge"
	paydomain "github.com/spotlabs/spot-sagas/internal/payment/domain"
	"github.com/spotlabs/spot-sagas/internal/payment/gateway"
	paystore "github.com/spotlabs/spot-sagas/internal/payment/store"
	paysqlite "github.com/spotlabs/spot-sagas/internal/payment/store/sqlite"
	paysaga "github.com/spotlabs/spot-sagas/internal/payment/workflow"
	"github.com/spotlabs/spot-sagas/internal/pkg/bus"
	"github.com/spotlabs/spot-sagas/internal/pkg/cache"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
	"github.com/spotlabs/spot-sagas/internal/pkg/telemetry"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
	steplogsqlite "github.com/spotlabs/spot-sagas/internal/workflow/steplog/sqlite"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "spot-sagas"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	db, err := storage.Open(getEnv("DB_PATH", "spot.db"))
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	orders, err := ordersqlite.New(db)
	if err != nil {
		slog.Error("failed to initialise order store", "error", err)
		os.Exit(1)
	}
	payments, err := paysqlite.New(db)
	if err != nil {
		slog.Error("failed to initialise payment store", "error", err)
		os.Exit(1)
	}
	outboxStore, err := outboxsqlite.New(db)
	if err != nil {
		slog.Error("failed to initialise outbox", "error", err)
		os.Exit(1)
	}
	sagaLog, err := steplogsqlite.New(db)
	if err != nil {
		slog.Error("failed to initialise saga log", "error", err)
		os.Exit(1)
	}

	var processed cache.Cache
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		processed = cache.NewRedisCache(redisAddr, "spot-sagas")
	} else {
		slog.Warn("REDIS_ADDR not set, using in-process cache for processed markers")
		processed = cache.NewMemory("spot-sagas")
	}

	mb := bus.NewInProc()
	engine := workflow.New(sagaLog)

	retry := saga.DefaultRetryPolicy()
	orderActs := ordersaga.NewActivities(db, orders, outboxStore)
	cfg := ordersaga.Config{
		PaymentWait: getDuration("PAYMENT_WAIT", ordersaga.DefaultConfig().PaymentWait),
		AcceptWait:  getDuration("ACCEPT_WAIT", ordersaga.DefaultConfig().AcceptWait),
		RefundWait:  getDuration("REFUND_WAIT", ordersaga.DefaultConfig().RefundWait),
	}
	ordersaga.NewFulfillment(orderActs, paymentChecker{payments: payments}, cfg).Register(engine)

	// TODO: swap the fake for the real gateway client once provider
	// credentials are provisioned.
	payActs := paysaga.NewActivities(db, payments, outboxStore, gateway.NewFake())
	paysaga.NewApprove(payActs, retry).Register(engine)
	paysaga.NewCancel(payActs, retry).Register(engine)

	orderbridge.New(engine, processed).Register(mb)
	paybridge.New(engine).Register(mb)

	// Resume whatever was mid-flight when the previous process died.
	if err := engine.Recover(ctx); err != nil {
		slog.Error("failed to recover running sagas", "error", err)
		os.Exit(1)
	}

	relay := outbox.NewRelay(outboxStore, mb)
	dispatcher := workflow.NewDispatcher(engine, sagaLog, time.Second)

	handler := httpx.NewHandler(engine, orders, sagaLog)
	server := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: otelhttp.NewHandler(httpx.NewRouter(handler), "http.server"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mb.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		slog.Info("spot sagas running", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutting down with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// paymentChecker lets the fulfillment saga ask the payment domain whether a
// capture landed, for the payment-wait timeout recheck.
type paymentChecker struct {
	payments paystore.Repository
}

func (p paymentChecker) Succeeded(ctx context.Context, orderID string) (bool, error) {
	pay, err := p.payments.ActiveByOrder(ctx, orderID)
	if errors.Is(err, paystore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pay.Status == paydomain.StatusSucceeded, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
