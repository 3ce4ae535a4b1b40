// Package model defines the reasoning service contract consumed by generator,
// router and critique nodes, plus decorators that add retry (WithRetry) and
// client side rate limiting (WithRateLimit) to any Model.
//
// Concrete adapters live in sub-packages (model/openai, model/anthropic).
// MockModel offers scripted replies for tests and examples.
package model
