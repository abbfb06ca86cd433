package models

// SessionInfo is the JSON representation of a session for the HTTP API.
type SessionInfo struct {
	ID            string `json:"id"`
	URI           string `json:"uri"`
	State         string `json:"state"`
	ClientAddr    string `json:"client_addr,omitempty"`
	ClientRTPPort uint16 `json:"client_rtp_port,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// SessionListResponse wraps the session list endpoint response.
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}
