package drive

import "strings"

// Kind distinguishes folders from opaque file content.
type Kind int

const (
	KindBlob Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "blob"
}

const folderMimeType = "application/vnd.google-apps.folder"

// Item is an immutable snapshot of a remote drive entry. Identity is the
// remote id; (name, parent) pairs are not guaranteed unique by the API.
type Item struct {
	ID       string
	Name     string
	Kind     Kind
	MimeType string
}

// IsFolder reports whether the item is a folder.
func (i Item) IsFolder() bool {
	return i.Kind == KindFolder
}

// ClassifyItem builds an Item from a raw API record, deriving the kind from
// the content type at construction time. Any mime type containing "folder"
// classifies as a folder with the mime type normalized to "folder"; anything
// else is a blob carrying the subtype after the first slash.
func ClassifyItem(id, name, rawMime string) Item {
	item := Item{ID: id, Name: name}

	mime := rawMime
	if idx := strings.Index(mime, "/"); idx >= 0 {
		mime = mime[idx+1:]
	} else {
		mime = ""
	}

	if strings.Contains(mime, "folder") {
		item.Kind = KindFolder
		item.MimeType = "folder"
	} else {
		item.Kind = KindBlob
		item.MimeType = mime
	}
	return item
}

// fileRecord matches one entry of the files array in a listing response.
type fileRecord struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	DriveID  string `json:"driveId"`
}

// listResponse matches the body returned by the files listing endpoint.
type listResponse struct {
	Kind             string       `json:"kind"`
	IncompleteSearch bool         `json:"incompleteSearch"`
	Files            []fileRecord `json:"files"`
}
