// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityAccess                      // Access or service token required
	SecurityAdmin                       // Token with the admin or operator role
)

// EndpointSecurityConfig maps "METHOD route-template" to its required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Probes and gateway callbacks - Public (webhooks carry their own signature)
	"GET /healthz": SecurityPublic,
	"POST /api/v1/webhooks/payments/{gateway}": SecurityPublic,

	// Customer - Access Protected
	"POST /api/v1/transactions":                     SecurityAccess,
	"GET /api/v1/transactions":                      SecurityAccess,
	"GET /api/v1/transactions/{id}":                 SecurityAccess,
	"GET /api/v1/transactions/{id}/status":          SecurityAccess,
	"POST /api/v1/transactions/{id}/payment-intent": SecurityAccess,
	"POST /api/v1/transactions/{id}/cancel":         SecurityAccess,
	"POST /api/v1/transactions/{id}/return":         SecurityAccess,

	// Operations - Admin Protected
	"POST /api/v1/admin/transactions/{id}/review":           SecurityAdmin,
	"POST /api/v1/admin/transactions/{id}/transitions":      SecurityAdmin,
	"POST /api/v1/admin/transactions/{id}/risk-evaluations": SecurityAdmin,
	"GET /api/v1/admin/transactions/{id}/history":           SecurityAdmin,
	"GET /api/v1/admin/inventory/{id}":                      SecurityAdmin,
	"POST /api/v1/admin/inventory/{id}/adjustments":         SecurityAdmin,

	// gRPC - keyed by full method name
	"GRPC /grpc.health.v1.Health/Check": SecurityPublic,
	"GRPC /grpc.health.v1.Health/List":  SecurityPublic,
}

// GetSecurityLevel returns the security level for a route
func GetSecurityLevel(method, route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[method+" "+route]; exists {
		return level
	}
	// Default to highest security for unknown endpoints
	return SecurityAdmin
}
