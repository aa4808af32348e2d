package common

// AuthorizationHeaderName is the HTTP header used to carry the bearer token
// on outbound API requests.
const AuthorizationHeaderName = "Authorization"

// SessionIDQueryParam and UserIDQueryParam identify the websocket session on
// connect, mirroring the server's query-string contract.
const (
	SessionIDQueryParam = "session_id"
	UserIDQueryParam    = "user_id"
)
