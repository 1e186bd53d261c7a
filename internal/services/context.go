package services

import "context"

type contextKey string

const (
	runIDKey       contextKey = "run_id"
	sessionKey     contextKey = "session"
	acquisitionKey contextKey = "acquisition"
	stageKey       contextKey = "stage"
)

// WithRunID annotates context with the invocation identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the invocation identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, runIDKey)
}

// WithSession annotates context with the session label (sub-X[/ses-Y]).
func WithSession(ctx context.Context, session string) context.Context {
	if session == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext returns the session label if present.
func SessionFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, sessionKey)
}

// WithAcquisition annotates context with the source acquisition being coined.
func WithAcquisition(ctx context.Context, source string) context.Context {
	if source == "" {
		return ctx
	}
	return context.WithValue(ctx, acquisitionKey, source)
}

// AcquisitionFromContext returns the acquisition source if present.
func AcquisitionFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, acquisitionKey)
}

// WithStage annotates context with the processing stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, stageKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
