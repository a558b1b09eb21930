// Package observability provides structured logging, Prometheus metrics, and
// health checks.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("account", ref.String()).Info("created local account")
//
// Request-scoped logging flows through the context:
//
//	ctx = observability.WithNameID(ctx, ident.NameID)
//	observability.FromContext(ctx).Warn("assertion validation failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.LoginsTotal.WithLabelValues("success").Inc()
//	metrics.GroupSyncOpsTotal.WithLabelValues("add").Inc()
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
package observability
