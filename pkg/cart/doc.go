// Package cart keeps per-session shopping carts in memory or in Redis.
package cart
