// Package tiers resolves the storage layout the corpus lives on: a hot tier
// (fast NVMe) that ingestion lands on and a cold tier (bulk HDD) that later
// pipeline stages archive to. Only path resolution lives here; moving data
// between tiers is someone else's job.
package tiers

import (
	"path/filepath"
	"runtime"
)

// Tier names a storage class.
type Tier string

const (
	Hot  Tier = "hot"
	Cold Tier = "cold"
)

// Tiers returns the known tiers in canonical order.
func Tiers() []Tier {
	return []Tier{Hot, Cold}
}

// Layout maps tiers to their on-disk dataset roots.
type Layout struct {
	Dataset string
	roots   map[Tier]string
}

// DefaultLayout resolves the conventional roots for this platform: drive
// letters on Windows, /hotdata and /colddata mounts elsewhere, each with the
// dataset name joined on.
func DefaultLayout(dataset string) Layout {
	roots := map[Tier]string{Hot: "/hotdata", Cold: "/colddata"}
	if runtime.GOOS == "windows" {
		roots = map[Tier]string{Hot: `D:\`, Cold: `E:\`}
	}

	for tier, root := range roots {
		roots[tier] = filepath.Join(root, dataset)
	}

	return Layout{Dataset: dataset, roots: roots}
}

// Root returns the dataset root on the given tier, or "" for an unknown tier.
func (l Layout) Root(t Tier) string {
	return l.roots[t]
}

// StagingRoot returns where fetched parquet snapshots land: the parquet
// subdirectory of the hot tier.
func (l Layout) StagingRoot() string {
	return filepath.Join(l.roots[Hot], "parquet")
}
