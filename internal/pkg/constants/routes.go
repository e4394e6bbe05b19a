package constants

// Auth route constants shared by the router and the extension client
const (
	RouteAuthLogin     = "/auth/google/login"
	RouteAuthCallback  = "/auth/google/callback"
	RouteAuthExchange  = "/auth/exchange"
	RouteAuthRefresh   = "/auth/refresh"
	RouteAuthLogout    = "/auth/logout"
	RouteAuthLogoutAll = "/auth/logout-all"
	RouteAuthUser      = "/auth/user"
	RoutePing          = "/api/ping"
)
