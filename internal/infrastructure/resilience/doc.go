/*
Package resilience provides the failure-handling primitives of the script host.

# Circuit breaker

Breaker implements the closed / open / half-open pattern. Remote module
fetches keep one breaker per origin host (BreakerSet) so a dead CDN stops
costing every module load a full retry cycle.

	set := resilience.NewBreakerSet(resilience.Settings{FailureThreshold: 5, Cooldown: 30 * time.Second})
	err := set.For(u.Host).Do(func() error { return fetch(u) })

# Retry policy

RetryPolicy and Attempts form an explicit state machine
(idle → running → backoff → running … → done | fatal) used by the main
context supervisor. The policy is independent of what is being retried, so
it can be tested on its own.

	attempts := resilience.RetryPolicy{MaxRetries: 5, Backoff: time.Second}.Start()
	for {
		attempts.Begin()
		if err := run(); err == nil {
			attempts.Succeeded()
			break
		} else if delay, ok := attempts.Failed(err); ok {
			time.Sleep(delay)
		} else {
			return attempts.Err()
		}
	}
*/
package resilience
