package fingerprint

import (
	"context"
	"path/filepath"
)

// Rooted resolves workspace-relative slash paths against a root directory
// before handing them to the service. The engine works in workspace
// coordinates; this is the bridge to the real filesystem.
type Rooted struct {
	root string
	svc  *Service
}

// NewRooted returns a rooted view over svc.
func NewRooted(root string, svc *Service) *Rooted {
	return &Rooted{root: root, svc: svc}
}

// File fingerprints the file at the workspace-relative path rel.
func (r *Rooted) File(ctx context.Context, rel string) (Digest, error) {
	return r.svc.File(ctx, filepath.Join(r.root, filepath.FromSlash(rel)))
}
