// Package monitor parses per-node monitor statistics documents
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFull(t *testing.T) {
	// A document with all known fields set non-zero.
	const doc = `{
		"timestamp": {"tv_sec": 1449495977, "tv_usec": 514751},
		"procfs": {
			"vm": {"la": [11, 33, 44]},
			"net": {
				"net_interfaces": {
					"eth0": {
						"receive": {"bytes": 997},
						"transmit": {"bytes": 991}
					}
				}
			}
		},
		"backends": {
			"11": {
				"backend_id": 11,
				"backend": {
					"base_stats": {
						"data-0.0": {"base_size": 2333049988}
					},
					"config": {
						"blob_size": 53687091262,
						"blob_size_limit": 5368709142,
						"data": "/data/path/311",
						"file": "/file/path/511",
						"group": 582
					},
					"dstat": {
						"error": 14,
						"io_ticks": 779584,
						"read_ios": 11058,
						"read_sectors": 1508520,
						"read_ticks": 28230,
						"write_ios": 153730,
						"write_ticks": 756474
					},
					"summary_stats": {
						"base_size": 2333049988,
						"records_removed": 2532,
						"records_removed_size": 258561190,
						"records_total": 29644,
						"want_defrag": 13
					},
					"vfs": {
						"bavail": 477906348,
						"blocks": 480682480,
						"bsize": 4110,
						"error": 16,
						"fsid": 8323278684798404794
					}
				},
				"commands": {
					"READ": {
						"cache": {
							"internal": {"size": 106845264, "time": 25534}
						},
						"disk": {
							"outside": {"size": 4116978, "time": 31968}
						}
					},
					"WRITE": {
						"cache": {
							"outside": {"size": 29053822, "time": 23022}
						},
						"disk": {
							"internal": {"size": 32427334, "time": 19062}
						}
					}
				},
				"io": {
					"blocking": {"current_size": 510},
					"nonblocking": {"current_size": 754}
				},
				"status": {
					"defrag_state": 348,
					"last_start": {"tv_sec": 1449503140, "tv_usec": 424972},
					"read_only": true,
					"state": 13
				}
			}
		},
		"stats": {
			"eblob.11.disk.stat_commit.errors.9": {"count": 24773},
			"eblob.11.disk.stat_commit.errors.30": {"count": 24760}
		}
	}`

	parsed, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, uint64(1449495977), parsed.Node.TsSec)
	assert.Equal(t, uint64(514751), parsed.Node.TsUsec)
	assert.Equal(t, uint64(11), parsed.Node.La1)
	assert.Equal(t, uint64(991), parsed.Node.TxBytes)
	assert.Equal(t, uint64(997), parsed.Node.RxBytes)

	require.Len(t, parsed.Backends, 1)
	stat := parsed.Backends[0]

	assert.Equal(t, uint64(11), stat.BackendID)
	assert.Equal(t, uint64(11058), stat.ReadIos)
	assert.Equal(t, uint64(153730), stat.WriteIos)
	assert.Equal(t, uint64(28230), stat.ReadTicks)
	assert.Equal(t, uint64(756474), stat.WriteTicks)
	assert.Equal(t, uint64(779584), stat.IoTicks)
	assert.Equal(t, uint64(1508520), stat.ReadSectors)
	assert.Equal(t, uint64(14), stat.DstatError)
	assert.Equal(t, uint64(8323278684798404794), stat.Fsid)
	assert.Equal(t, uint64(480682480), stat.VfsBlocks)
	assert.Equal(t, uint64(477906348), stat.VfsBavail)
	assert.Equal(t, uint64(4110), stat.VfsBsize)
	assert.Equal(t, uint64(16), stat.VfsError)
	assert.Equal(t, uint64(2333049988), stat.BaseSize)
	assert.Equal(t, uint64(29644), stat.RecordsTotal)
	assert.Equal(t, uint64(2532), stat.RecordsRemoved)
	assert.Equal(t, uint64(258561190), stat.RecordsRemovedSize)
	assert.Equal(t, uint64(13), stat.WantDefrag)
	assert.Equal(t, uint64(5368709142), stat.BlobSizeLimit)
	assert.Equal(t, uint64(53687091262), stat.BlobSize)
	assert.Equal(t, uint64(582), stat.Group)
	assert.Equal(t, "/data/path/311", stat.DataPath)
	assert.Equal(t, "/file/path/511", stat.FilePath)
	assert.Equal(t, uint64(2333049988), stat.MaxBlobBaseSize)
	assert.Equal(t, uint64(13), stat.State)
	assert.Equal(t, uint64(348), stat.DefragState)
	assert.True(t, stat.ReadOnly)
	assert.Equal(t, uint64(1449503140), stat.LastStartTsSec)
	assert.Equal(t, uint64(424972), stat.LastStartTsUsec)
	assert.Equal(t, uint64(29053822), stat.EllCacheWriteSize)
	assert.Equal(t, uint64(23022), stat.EllCacheWriteTime)
	assert.Equal(t, uint64(32427334), stat.EllDiskWriteSize)
	assert.Equal(t, uint64(19062), stat.EllDiskWriteTime)
	assert.Equal(t, uint64(106845264), stat.EllCacheReadSize)
	assert.Equal(t, uint64(25534), stat.EllCacheReadTime)
	assert.Equal(t, uint64(4116978), stat.EllDiskReadSize)
	assert.Equal(t, uint64(31968), stat.EllDiskReadTime)
	assert.Equal(t, uint64(510), stat.IoBlockingSize)
	assert.Equal(t, uint64(754), stat.IoNonblockingSize)

	// only the EROFS (30) counter lands in the side map
	require.Len(t, parsed.RofsErrors, 1)
	assert.Equal(t, uint64(24760), parsed.RofsErrors[11])
}

func TestParseNetInterfaces(t *testing.T) {
	// Loopback counters must be ignored in the node totals.
	const doc = `{
		"procfs": {
			"net": {
				"net_interfaces": {
					"eth0": {
						"receive": {"bytes": 710009597},
						"transmit": {"bytes": 38043292}
					},
					"eth1": {
						"receive": {"bytes": 15335807301},
						"transmit": {"bytes": 10702349567}
					},
					"lo": {
						"receive": {"bytes": 5980567201},
						"transmit": {"bytes": 5980567201}
					}
				}
			}
		}
	}`

	parsed, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, uint64(16045816898), parsed.Node.RxBytes)
	assert.Equal(t, uint64(10740392859), parsed.Node.TxBytes)
}

func TestParseMaxBlobBaseSize(t *testing.T) {
	// max_blob_base_size is the maximum over base_stats files.
	const doc = `{
		"backends": {
			"7949": {
				"backend_id": 7949,
				"backend": {
					"base_stats": {
						"data-0.0": {"base_size": 2503},
						"data-1.0": {"base_size": 7011},
						"data-2.0": {"base_size": 5101}
					}
				}
			}
		}
	}`

	parsed, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, parsed.Backends, 1)
	assert.Equal(t, uint64(7949), parsed.Backends[0].BackendID)
	assert.Equal(t, uint64(7011), parsed.Backends[0].MaxBlobBaseSize)
}

func TestParseCommands(t *testing.T) {
	// Reads aggregate LOOKUP and READ; writes aggregate WRITE; the
	// internal/outside split is summed.
	const doc = `{
		"backends": {
			"13687": {
				"backend_id": 13687,
				"commands": {
					"LOOKUP": {
						"cache": {
							"internal": {"size": 23569810725173, "time": 984787292977},
							"outside": {"size": 28971867612377, "time": 101891706627377}
						},
						"disk": {
							"internal": {"size": 312502641817337, "time": 2090731958971},
							"outside": {"size": 1144666813351, "time": 251893066721771}
						}
					},
					"READ": {
						"cache": {
							"internal": {"size": 15521512425161, "time": 22543623921839},
							"outside": {"size": 140743022331809, "time": 293701205228491}
						},
						"disk": {
							"internal": {"size": 296541659217403, "time": 87071764919387},
							"outside": {"size": 16480592113031, "time": 19792174930169}
						}
					},
					"WRITE": {
						"cache": {
							"internal": {"size": 307251808920601, "time": 30006316647227},
							"outside": {"size": 314502224221261, "time": 23647697221787}
						},
						"disk": {
							"internal": {"size": 6127806619027, "time": 169951005011401},
							"outside": {"size": 6416988325967, "time": 9534169012801}
						}
					}
				}
			}
		}
	}`

	parsed, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, parsed.Backends, 1)

	stat := parsed.Backends[0]
	assert.Equal(t, uint64(621754033141862), stat.EllCacheWriteSize)
	assert.Equal(t, uint64(53654013869014), stat.EllCacheWriteTime)
	assert.Equal(t, uint64(12544794944994), stat.EllDiskWriteSize)
	assert.Equal(t, uint64(179485174024202), stat.EllDiskWriteTime)
	assert.Equal(t, uint64(208806213094520), stat.EllCacheReadSize)
	assert.Equal(t, uint64(419121323070684), stat.EllCacheReadTime)
	assert.Equal(t, uint64(626669559961122), stat.EllDiskReadSize)
	assert.Equal(t, uint64(360847738530298), stat.EllDiskReadTime)
}

func TestParseMalformedDocument(t *testing.T) {
	_, err := Parse([]byte(`{"timestamp": {`))
	assert.Error(t, err)

	_, err = Parse([]byte(`[1, 2, 3]`))
	assert.Error(t, err)
}

func TestParseToleratesUnknownFields(t *testing.T) {
	const doc = `{
		"unknown_section": {"a": [1, {"b": 2}]},
		"timestamp": {"tv_sec": 100, "tv_usec": 5, "extra": true},
		"backends": {
			"3": {"backend_id": 3, "novel_field": "x"}
		}
	}`

	parsed, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), parsed.Node.TsSec)
	require.Len(t, parsed.Backends, 1)
	assert.Equal(t, uint64(3), parsed.Backends[0].BackendID)
}
