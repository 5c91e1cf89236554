package dvrclient

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// RealTimeLength is the sentinel value of length() for a resource of
// unknown or unbounded size ("real-time stream"). It doubles as the
// transient length restart() installs before headers are reprocessed,
// mirroring the original's reuse of one MAX_STREAM_LENGTH sentinel for
// both roles.
const RealTimeLength = int64(1)<<63 - 1

// driveWaitCeiling bounds how long a single transferUntil iteration waits
// for the next body chunk before re-checking its predicate.
const driveWaitCeiling = 500 * time.Millisecond

// minReadCountFloor is the lowest permitted read_min_count, one TS packet.
const minReadCountFloor = tsPacketLength

var contentRangeFullPattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)
var contentRangeUnknownStartPattern = regexp.MustCompile(`^bytes \*/(\d+)$`)

// transferDriver drives a single HTTP(S) GET against url, writing received
// body bytes into ring and exposing the cooperative transferUntil pump
// described in the spec. A transferDriver is single-use: restart replaces
// it with a fresh attachment rather than mutating request state in place,
// since Go's http.Request/http.Response do not support detach/reattach the
// way a libcurl easy handle does.
type transferDriver struct {
	httpClient *http.Client
	url        string
	userAgent  string
	ring       *ringBuffer

	canSeek     bool
	headersDone bool
	length      int64

	chunks chan []byte
	result chan transferResult

	pending     []byte // replay buffer: bytes that didn't fit on the last write attempt
	paused      bool
	cancel      context.CancelFunc
	bodyEnded   bool
	finalErr    error
	finalStatus int

	// bytesTransferred and pauseCount are polled by internal/metrics rather
	// than pushed, keeping this package free of a Prometheus dependency.
	bytesTransferred uint64
	pauseCount       uint64
}

// transferResult is sent on result exactly once, when the body read loop
// ends (EOF or error).
type transferResult struct {
	statusCode int
	err        error
}

// newTransferDriver issues the initial or restart GET request with the given
// Range header value (e.g. "0-" or "524288-") and starts the background body
// reader. It blocks only long enough to send the request and receive
// response headers (net/http's Client.Do already blocks until headers
// arrive), which corresponds to the point at which the original's curl
// write/header callbacks become live.
func newTransferDriver(ctx context.Context, client *http.Client, url, userAgent, rangeHeader string, ring *ringBuffer) (*transferDriver, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, transportFailure("building request", err)
	}
	req.Header.Set("Accept-Encoding", "identity, gzip, deflate")
	req.Header.Set("Range", "bytes="+rangeHeader)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, transportFailure("performing initial request", err)
	}

	d := &transferDriver{
		httpClient: client,
		url:        url,
		userAgent:  userAgent,
		ring:       ring,
		chunks:     make(chan []byte),
		result:     make(chan transferResult, 1),
		cancel:     cancel,
	}
	d.processHeaders(resp)
	d.headersDone = true
	go d.readLoop(resp)
	return d, nil
}

// processHeaders recognises exactly the two header forms the spec names.
// Header names are looked up through net/http's canonical header map, so
// they match in any letter case; values are compared case-sensitively
// (Accept-Ranges must equal "bytes", Content-Range must match one of the
// two full forms). Anything else leaves start=0, length=RealTimeLength
// (the "defaults to real-time" fallback).
func (d *transferDriver) processHeaders(resp *http.Response) {
	if resp.Header.Get("Accept-Ranges") == "bytes" {
		d.canSeek = true
	}

	cr := resp.Header.Get("Content-Range")
	start, length, ok := parseContentRange(cr)
	if !ok {
		start, length = 0, RealTimeLength
	}
	d.ring.reset(start)
	d.length = length
}

// parseContentRange parses "bytes <start>-<end>/<len>" or "bytes */<len>".
// On the first form it returns start and len; on the second it returns
// (len, len) per the spec's "start = len" fallback for a seek-past-EOF
// response. ok is false if neither form matches.
func parseContentRange(h string) (start int64, length int64, ok bool) {
	if m := contentRangeFullPattern.FindStringSubmatch(h); m != nil {
		s, err1 := strconv.ParseInt(m[1], 10, 64)
		l, err2 := strconv.ParseInt(m[3], 10, 64)
		if err1 == nil && err2 == nil {
			return s, l, true
		}
	}
	if m := contentRangeUnknownStartPattern.FindStringSubmatch(h); m != nil {
		l, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return l, l, true
		}
	}
	return 0, 0, false
}

// readLoop owns the response body: it performs blocking Read calls and
// forwards each chunk on the unbuffered chunks channel. Because the channel
// has no buffer, a pending send blocks until the consumer's transferUntil
// loop is ready to receive it — this is the Go realization of the pause
// mechanism described in SPEC_FULL.md §4.2: no separate pause flag is
// needed to stop the producer from reading further, since the goroutine
// will not call Read again until its previous chunk has been delivered.
func (d *transferDriver) readLoop(resp *http.Response) {
	defer resp.Body.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case d.chunks <- chunk:
			case <-resp.Request.Context().Done():
				// close() cancelled the request; nobody will receive again.
				return
			}
		}
		if err != nil {
			status := resp.StatusCode
			if err == io.EOF {
				err = nil
			}
			d.result <- transferResult{statusCode: status, err: err}
			return
		}
	}
}

// transferUntil is the cooperative pump described in SPEC_FULL.md §4.2. It
// advances the transfer until pred() is true, the transfer ends, or an
// iteration's wait ceiling elapses without anything to do (in which case it
// loops again, mirroring the original's 500ms curl_multi_wait ceiling).
func (d *transferDriver) transferUntil(pred func() bool) (bool, error) {
	// Step 1: replay a pending chunk (the pause-resume path) before doing
	// anything else.
	if len(d.pending) > 0 {
		if !d.tryWritePending() {
			if pred() {
				return true, nil
			}
		}
	}

	if d.bodyEnded && len(d.pending) == 0 {
		return pred(), d.terminalError()
	}

	for {
		if pred() {
			return true, nil
		}
		if len(d.pending) > 0 {
			if d.tryWritePending() {
				continue
			}
			// Buffer is still full; nothing else to do this iteration.
			return pred(), nil
		}

		select {
		case chunk, more := <-d.chunks:
			if !more {
				continue
			}
			d.acceptChunk(chunk)
		case res := <-d.result:
			d.bodyEnded = true
			d.finalStatus = res.statusCode
			d.finalErr = res.err
			if pred() {
				return true, nil
			}
			return pred(), d.terminalError()
		case <-time.After(driveWaitCeiling):
			// Responsiveness ceiling: re-check pred() and loop.
		}
	}
}

// acceptChunk writes as much of chunk as the ring's writable gap allows,
// stashing the remainder in pending to replay on a later iteration —
// exactly the "buffer the would-have-paused chunk" fallback SPEC_FULL.md's
// Design Notes call for.
func (d *transferDriver) acceptChunk(chunk []byte) {
	gap := d.ring.writableGap()
	if gap >= len(chunk) {
		d.ring.write(chunk, len(chunk))
		d.bytesTransferred += uint64(len(chunk))
		d.paused = false
		return
	}
	if gap > 0 {
		d.ring.write(chunk, gap)
		d.bytesTransferred += uint64(gap)
	}
	d.pending = chunk[gap:]
	d.paused = true
	d.pauseCount++
}

// tryWritePending attempts to drain the pending replay buffer. Returns true
// if it fully drained.
func (d *transferDriver) tryWritePending() bool {
	gap := d.ring.writableGap()
	if gap == 0 {
		return false
	}
	if gap >= len(d.pending) {
		d.ring.write(d.pending, len(d.pending))
		d.bytesTransferred += uint64(len(d.pending))
		d.pending = nil
		d.paused = false
		return true
	}
	d.ring.write(d.pending, gap)
	d.bytesTransferred += uint64(gap)
	d.pending = d.pending[gap:]
	return false
}

// terminalError converts the final HTTP outcome into the spec's error
// taxonomy: a zero status or transport error is TransportFailure, a status
// outside 200-299 is HttpStatus{code}, otherwise nil.
func (d *transferDriver) terminalError() error {
	if d.finalErr != nil {
		return transportFailure("transfer ended with error", d.finalErr)
	}
	if d.finalStatus == 0 {
		return transportFailure("no response from host", nil)
	}
	if d.finalStatus < 200 || d.finalStatus > 299 {
		return httpStatus(d.finalStatus)
	}
	return nil
}

// close aborts the in-flight transfer by cancelling its request context.
// Idempotent.
func (d *transferDriver) close() {
	if d.cancel != nil {
		d.cancel()
	}
}
