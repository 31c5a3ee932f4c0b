// Package types defines shared domain types: the App registry record, the
// closed AppType enum, derived runtime status, lifecycle results, and the
// error taxonomy used across the engine.
package types
