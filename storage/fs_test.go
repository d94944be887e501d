// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallFsStat(id, group, fsid, blobSizeLimit uint64) BackendStat {
	stat := bstat(id, group, fsid)
	stat.VfsBlocks = 100
	stat.VfsBsize = 4096 // vfs total space 409600
	stat.VfsBavail = 100
	stat.BlobSizeLimit = blobSizeLimit
	return stat
}

func TestFilesystemStatusOK(t *testing.T) {
	// Filesystems whose configured backend totals fit are OK, both with
	// space to spare and with an exact fit.
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec,
		smallFsStat(11, 1, 1, 21001),
		smallFsStat(21, 2, 2, 31013),
		smallFsStat(22, 3, 2, 32003),
		smallFsStat(31, 4, 3, 409600),
		smallFsStat(41, 5, 4, 167936),
		smallFsStat(42, 6, 4, 241664),
	)
	e.update()

	require.Len(t, n.Filesystems(), 4)
	for fsid, fs := range n.Filesystems() {
		assert.Equal(t, FSOK, fs.Status(), "fsid %d", fsid)
	}
}

func TestFilesystemBrokenCascade(t *testing.T) {
	// Two backends oversubscribing one filesystem, plus one backend whose
	// limit alone exceeds its filesystem: every backend ends up BROKEN.
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec,
		smallFsStat(21, 2, 1, 409517),
		smallFsStat(22, 3, 1, 4096),
		smallFsStat(11, 1, 2, 409709),
	)
	e.update()

	require.Len(t, n.Filesystems(), 2)
	assert.Equal(t, FSBroken, n.Filesystems()[uint64(1)].Status())
	assert.Equal(t, FSBroken, n.Filesystems()[uint64(2)].Status())

	require.Len(t, n.Backends(), 3)
	for id, b := range n.Backends() {
		assert.Equal(t, BackendBroken, b.Status(), "backend %d", id)
	}
}

func TestFilesystemRecoversWithBackends(t *testing.T) {
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec,
		smallFsStat(1, 1, 1, 409517),
		smallFsStat(2, 2, 1, 4096),
	)
	e.update()
	require.Equal(t, FSBroken, n.Filesystems()[uint64(1)].Status())

	// the oversubscribing backend shrinks its limit; the FS recovers
	setWallClock(t, testTsSec+10)
	e.apply(n, testTsSec+10,
		smallFsStat(1, 1, 1, 405504),
		smallFsStat(2, 2, 1, 4096),
	)
	e.update()

	assert.Equal(t, FSOK, n.Filesystems()[uint64(1)].Status())
	assert.Equal(t, BackendOK, n.Backends()[1].Status())
	assert.Equal(t, BackendOK, n.Backends()[2].Status())
}
