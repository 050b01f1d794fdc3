// Package redis provides Redis connectivity for the run state mirror.
//
// It wraps go-redis v9 with JSON helpers and a key prefix so several
// brewlogic instances can share one server:
//
//	client, err := redis.Connect(ctx, cfg.Redis)
//	if errors.Is(err, redis.ErrDisabled) {
//	    // mirror switched off
//	}
//	defer client.Close()
//
//	err = client.SetJSON(ctx, "run_state", state, 0)
package redis
