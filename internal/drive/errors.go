package drive

import "errors"

var (
	// ErrAuth indicates the OAuth2 token refresh failed or returned an
	// unparseable response.
	ErrAuth = errors.New("drive: authentication failed")

	// ErrRemoteQuery indicates a listing or search call returned a non-200
	// response or a malformed body.
	ErrRemoteQuery = errors.New("drive: remote query failed")

	// ErrRemoteWrite indicates a folder-creation call failed.
	ErrRemoteWrite = errors.New("drive: remote write failed")

	// ErrSessionInit indicates a resumable upload session could not be
	// initiated (non-200 response or missing Location header).
	ErrSessionInit = errors.New("drive: upload session initiation failed")

	// ErrUpload indicates the content transfer phase of an upload failed.
	ErrUpload = errors.New("drive: upload failed")
)
