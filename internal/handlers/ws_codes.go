// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby handler.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Missing, invalid or expired auth token.
)
