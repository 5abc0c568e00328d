package main

import pacfs "github.com/devkitPro/pacman-sub000/internal/fs"

// fileHasher adapts internal/fs.HashFile to ports.Hasher; it is the
// identical function the apply package falls back to when no Hasher is
// supplied, exported here so the CLI wires one explicitly instead of
// relying on that default.
type fileHasher struct{}

func (fileHasher) Hash(path string) (string, error) { return pacfs.HashFile(path) }
