/*
Package monitoring provides Prometheus metrics for the script host.

# Overview

Metrics cover the host API, task lifecycle, permission mediation, module
loading, the event bridge and the main-context supervisor. Each Metrics value
owns its own registry, so tests can create isolated collectors.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.PromptRaised("read")
	metrics.TaskFinished("completed")
*/
package monitoring
