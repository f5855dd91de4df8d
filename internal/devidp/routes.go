package devidp

import "github.com/jrsteele09/alumni-session/gateway"

const (
	RouteJWKS          = "/.well-known/jwks.json"
	RouteMe            = "/api/me"
	RouteAdminOverview = "/admin/api/overview"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("POST "+gateway.RouteLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+gateway.RouteRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+gateway.RouteLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+gateway.RouteAdminLogin, ChainMiddleware(s.AdminLoginHandler(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteJWKS, ChainMiddleware(s.JWKSHandler(), s.APIMiddleware()...))

	// Protected resources
	s.RegisterRouteFunc("GET "+RouteMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteFunc("GET "+RouteAdminOverview, ChainMiddleware(s.AdminOverviewHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireAdmin())...))
}
