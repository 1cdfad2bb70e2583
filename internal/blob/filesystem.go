package blob

import (
	"relinfer/internal/infra/blob/fs"
)

// NewFilesystem constructs a filesystem-backed Store rooted at the provided path.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}
