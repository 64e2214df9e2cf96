// Package lifecycle broadcasts process phase transitions and drives the
// shutdown drain. Components register notifications, which run synchronously
// on every phase, and waiters, which block the drain step until they finish
// or the shutdown budget runs out.
package lifecycle
