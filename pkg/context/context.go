package context

import "context"

type ContextKey string

var (
	RequestIDKey   = ContextKey("X-Request-Id")
	MethodKey      = ContextKey("X-Method")
	RouteKey       = ContextKey("X-Route")
	RemoteIPKey    = ContextKey("X-Remote-Ip")
	UserIDKey      = ContextKey("X-User-Id")
	TicketKey      = ContextKey("X-Qb-Ticket")
	RunIDKey       = ContextKey("X-Qb-Run-Id")
	CompanyFileKey = ContextKey("X-Qb-Company-File")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	value, ok := ctx.Value(MethodKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	value, ok := ctx.Value(RouteKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	value, ok := ctx.Value(RemoteIPKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	value, ok := ctx.Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetTicket(ctx context.Context, ticket string) context.Context {
	return context.WithValue(ctx, TicketKey, ticket)
}

func GetTicket(ctx context.Context) string {
	value, ok := ctx.Value(TicketKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	value, ok := ctx.Value(RunIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetCompanyFile(ctx context.Context, companyFile string) context.Context {
	return context.WithValue(ctx, CompanyFileKey, companyFile)
}

func GetCompanyFile(ctx context.Context) string {
	value, ok := ctx.Value(CompanyFileKey).(string)
	if !ok {
		return ""
	}
	return value
}
