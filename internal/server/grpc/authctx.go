package grpcserver

import "context"

type ctxKey string

const subjectKey ctxKey = "oaimirror.subject"

// WithSubject stores the authenticated operator in context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromCtx fetches the authenticated operator from context.
func SubjectFromCtx(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}
