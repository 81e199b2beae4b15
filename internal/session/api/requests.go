package api

// StartSessionProcessRequest starts a new session process.
type StartSessionProcessRequest struct {
	ProjectID      string `json:"projectId" binding:"required"`
	CWD            string `json:"cwd" binding:"required"`
	Input          string `json:"input" binding:"required"`
	BaseSessionID  string `json:"baseSessionId"`
	PermissionMode string `json:"permissionMode"`
}

// ContinueSessionProcessRequest continues a finished session process's
// session with new input.
type ContinueSessionProcessRequest struct {
	Input          string `json:"input" binding:"required"`
	PermissionMode string `json:"permissionMode"`
}

// RespondPermissionRequest answers a pending permission request.
type RespondPermissionRequest struct {
	Decision string `json:"decision" binding:"required"`
}
