package types

// PermissionKind discriminates PermissionRequest.
type PermissionKind string

const (
	PermissionRead  PermissionKind = "read"
	PermissionWrite PermissionKind = "write"
	PermissionShell PermissionKind = "shell"
)

// PermissionRequest is a tagged union; which fields are set depends on Kind.
//
//	read:  Path
//	write: FileName, Diff
//	shell: Intention, FullCommandText
type PermissionRequest struct {
	Kind            PermissionKind `json:"kind"`
	Path            string         `json:"path,omitempty"`
	FileName        string         `json:"fileName,omitempty"`
	Diff            string         `json:"diff,omitempty"`
	Intention       string         `json:"intention,omitempty"`
	FullCommandText string         `json:"fullCommandText,omitempty"`
}

// PermissionResultKind is the outcome of a permission negotiation.
type PermissionResultKind string

const (
	PermissionApproved PermissionResultKind = "approved"
	PermissionDenied   PermissionResultKind = "denied-interactively-by-user"
)

// PermissionResult is returned to the runtime for every permission request.
type PermissionResult struct {
	Kind PermissionResultKind `json:"kind"`
}

// Approved reports whether the request was approved.
func (r PermissionResult) Approved() bool {
	return r.Kind == PermissionApproved
}
