// Package main implements the ccache binary: argv[0]-driven dispatch
// between the compiler-masquerade path and the administrative CLI
// surface (spec.md §6 "External interfaces").
//
// Grounded on rclone's cmd/ convention of a package-level *logrus.Entry
// plus a thin construction helper shared by every subcommand
// (backend/torrent/cmd/backend.go's init-registration idiom), adapted
// here to build one internal/engine.Engine shared by both dispatch
// paths.
package main

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccachego/ccache/internal/ccconfig"
	"github.com/ccachego/ccache/internal/ccstats"
	"github.com/ccachego/ccache/internal/engine"
	"github.com/ccachego/ccache/internal/inodecache"
	"github.com/ccachego/ccache/internal/localstore"
	"github.com/ccachego/ccache/internal/remotestore"
)

var log = logrus.WithField("component", "ccache")

// loadConfig merges the four precedence layers spec.md §6 names, reading
// config files with a small os.ReadFile-backed FileLoader (the file
// reading/merging mechanics themselves stay an out-of-scope, swappable
// concern per spec.md §1).
func loadConfig() (ccconfig.Config, error) {
	loader := func(path string) (map[string]string, error) {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return parseConfigLines(string(data)), nil
	}

	systemFile := "/etc/ccache.conf"
	userFile := ""
	if dir, err := os.UserConfigDir(); err == nil {
		userFile = dir + "/ccache/ccache.conf"
	}

	var overrides []string
	args := os.Args[1:]
	for i, a := range args {
		switch {
		case strings.HasPrefix(a, "--set-config="):
			overrides = append(overrides, strings.TrimPrefix(a, "--set-config="))
		case a == "--set-config" && i+1 < len(args):
			overrides = append(overrides, args[i+1])
		}
	}

	return ccconfig.Load(systemFile, userFile, loader, os.Environ(), overrides)
}

// newEngine wires components H/I/D (local storage, remote orchestrator,
// inode cache) plus a fresh per-invocation ccstats.Set into one
// engine.Engine, the way spec.md §2's data-flow diagram describes.
func newEngine(cfg ccconfig.Config) (*engine.Engine, error) {
	stats := ccstats.NewSet()

	store, err := localstore.Open(cfg.CacheDir, cfg.MaxFiles, cfg.MaxSize, log)
	if err != nil {
		return nil, err
	}

	var remote *remotestore.Orchestrator
	if cfg.RemoteStorage != "" {
		entries, err := remotestore.ParseConfig(cfg.RemoteStorage)
		if err != nil {
			log.WithError(err).Warn("failed to parse remote_storage config; remote storage disabled")
		} else {
			remote = remotestore.New(entries, remoteBackendFactory, stats, log, remotestore.Policy{
				RemoteOnly: cfg.RemoteOnly,
				Reshare:    cfg.Reshare,
			})
		}
	}

	var inode *inodecache.Cache
	if cfg.InodeCache {
		inodePath := cfg.CacheDir + "/inode-cache"
		known, avail := probeFilesystem(cfg.CacheDir)
		ic, err := inodecache.Open(inodePath, known, log)
		if err != nil {
			log.WithError(err).Warn("failed to open inode cache; continuing without it")
		} else {
			inode = ic
			if inode != nil && !inode.CheckFreeSpace(time.Now(), avail) {
				log.Warn("inode cache filesystem low on space; disabling")
				inode.Close()
				inode = nil
			}
		}
	}

	return &engine.Engine{
		Config: cfg,
		Store:  store,
		Remote: remote,
		Inode:  inode,
		Stats:  stats,
		Log:    log,
	}, nil
}

// parseConfigLines reads a ccache.conf-style file (one `key = value` pair
// per line, `#`-prefixed comments and blank lines ignored) into the
// key/value map ccconfig.Load expects. This is the file-reading
// mechanics spec.md §1 names as an out-of-scope, swappable concern;
// ccconfig itself only owns the merge order and key table.
func parseConfigLines(data string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// remoteBackendFactory is the only concrete remotestore.Backend wired in
// this tree: the file:// backend. Hosted cloud-object-store backends are
// explicitly out of scope per SPEC_FULL.md §2's dropped-dependency
// ledger.
func remoteBackendFactory(rawURL string) (remotestore.Backend, error) {
	return remotestore.NewFileBackend(rawURL)
}
