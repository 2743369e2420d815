package infrastructure

import (
	"log/slog"

	"accounting/internal/config"
	"accounting/internal/hierarchy"
)

// connectHierarchy dials the hierarchy service, or loads the directory from a
// file when no service address is configured.
func connectHierarchy(cfg *config.Config) (hierarchy.Directory, func(), error) {
	if addr, err := cfg.HierarchyAddr(); err == nil {
		client, cleanup, err := hierarchy.Dial(addr)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using remote project hierarchy", "addr", addr)
		return client, cleanup, nil
	}

	dir, err := hierarchy.LoadStatic(cfg.HierarchyFile)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using project hierarchy file", "path", cfg.HierarchyFile)
	return dir, func() {}, nil
}
