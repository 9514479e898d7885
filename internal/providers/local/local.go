// Package local serves artwork from files already sitting next to the
// library: <dir>/<entity_type>/<entity_id>/<asset_type>.<ext>. It needs no
// network and no credentials, and its candidates outrank remote ones when
// scores otherwise tie.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"fetcharr/internal/providers"
	"fetcharr/internal/services"
)

const Name = "local"

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

type provider struct {
	providers.Unsupported
	dir string
}

// NewConstructor returns a registry constructor for the sidecar provider
// rooted at dir.
func NewConstructor(dir string) providers.Constructor {
	return func(providers.ProviderConfig) (providers.Provider, error) {
		if dir == "" {
			return nil, services.Wrap(services.ErrValidation, Name, "construct", "sidecar directory is not configured", nil)
		}
		return &provider{dir: dir}, nil
	}
}

func (p *provider) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Name: Name,
		EntityTypes: []providers.EntityType{
			providers.EntityMovie,
			providers.EntitySeries,
			providers.EntityMusic,
		},
		AssetTypes: []providers.AssetType{
			providers.AssetPoster,
			providers.AssetBackdrop,
			providers.AssetBanner,
			providers.AssetLogo,
			providers.AssetThumb,
		},
		RequiresAuth:      false,
		RequestsPerSecond: 100,
		BurstCapacity:     100,
		PriorityWeight:    1.0,
	}
}

// GetAssets looks for one sidecar file per requested asset type. Missing
// files are not an error; an entity without sidecars yields no candidates.
func (p *provider) GetAssets(ctx context.Context, req providers.AssetRequest) ([]providers.AssetRef, error) {
	entityID, ok := req.ExternalIDs[Name]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, Name, "assets", "missing local entity id", nil)
	}
	if _, err := strconv.ParseInt(entityID, 10, 64); err != nil {
		return nil, services.Wrap(services.ErrValidation, Name, "assets", fmt.Sprintf("bad entity id %q", entityID), nil)
	}

	base := filepath.Join(p.dir, string(req.EntityType), entityID)
	var refs []providers.AssetRef
	for _, assetType := range req.AssetTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, found := findSidecar(base, string(assetType))
		if !found {
			continue
		}
		refs = append(refs, providers.AssetRef{
			Provider:  Name,
			AssetType: assetType,
			URL:       "file://" + path,
		})
	}
	return refs, nil
}

func (p *provider) TestConnection(ctx context.Context) error {
	info, err := os.Stat(p.dir)
	if err != nil {
		return services.Wrap(services.ErrTransient, Name, "test connection", fmt.Sprintf("stat %s", p.dir), err)
	}
	if !info.IsDir() {
		return services.Wrap(services.ErrValidation, Name, "test connection", fmt.Sprintf("%s is not a directory", p.dir), nil)
	}
	return nil
}

func findSidecar(base, stem string) (string, bool) {
	for _, ext := range imageExtensions {
		path := filepath.Join(base, stem+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}
