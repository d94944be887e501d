// Package round implements one end-to-end collection cycle
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package round

import (
	"fmt"
	"strconv"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// MetaSession reads the group metadata key ("symmetric_groups" in the
// "metabalancer" namespace) routed to a group id. The returned timestamp is
// the record timestamp in nanoseconds.
type MetaSession interface {
	ReadGroupMetadata(addrs []string, groupID int) (data []byte, timestamp uint64, err error)
}

const (
	metadataKey       = "symmetric_groups"
	metadataNamespace = "metabalancer"

	metadataTimestampHeader = "X-Metadata-Timestamp"
)

// HTTPMetaSession reads group metadata through the storage HTTP gateway.
// The serving node is picked by hashing the group id over the node list, so
// repeated reads for one group land on the same node.
type HTTPMetaSession struct {
	client *fasthttp.Client
	port   uint64

	timeout time.Duration
}

func NewHTTPMetaSession(port, waitTimeoutSec uint64) *HTTPMetaSession {
	timeout := time.Duration(waitTimeoutSec) * time.Second
	return &HTTPMetaSession{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		port:    port,
		timeout: timeout,
	}
}

func (ms *HTTPMetaSession) ReadGroupMetadata(addrs []string, groupID int) ([]byte, uint64, error) {
	if len(addrs) == 0 {
		return nil, 0, errors.New("no nodes to read metadata from")
	}
	addr := addrs[xxhash.ChecksumString64(strconv.Itoa(groupID))%uint64(len(addrs))]

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("http://%s:%d/get/%s?namespace=%s&group=%d",
		addr, ms.port, metadataKey, metadataNamespace, groupID))

	if err := ms.client.DoTimeout(req, resp, ms.timeout); err != nil {
		return nil, 0, errors.Wrapf(err, "read metadata for group %d from %s", groupID, addr)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, 0, errors.Errorf("read metadata for group %d from %s: HTTP %d", groupID, addr, code)
	}

	var timestamp uint64
	if header := resp.Header.Peek(metadataTimestampHeader); len(header) != 0 {
		if ts, err := strconv.ParseUint(string(header), 10, 64); err == nil {
			timestamp = ts
		}
	}

	body := resp.Body()
	out := make([]byte, len(body))
	copy(out, body)
	return out, timestamp, nil
}
