// Package agent defines the contract each pilot worker fulfils and the
// runner that supervises them. Agents share no memory; all coordination goes
// through the signal bus, and cancellation is a cooperative flag every loop
// checks at its iteration boundary.
package agent

import "context"

// Agent is one independently restartable worker with its own poll/react loop.
// Run blocks until ctx is cancelled or the agent fails; it must finish any
// in-flight write-ahead step before returning.
type Agent interface {
	Name() string
	Run(ctx context.Context) error
}

// Heartbeat is the liveness record published on pilot.heartbeat.{agent}.
type Heartbeat struct {
	Agent string `json:"agent"`
	TS    int64  `json:"ts"`
}
