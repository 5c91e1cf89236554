package dvrclient

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"
)

// Whence selects the reference point for Seek, mirroring io.Seeker's
// SeekStart/SeekCurrent/SeekEnd but kept as a local type since Seek's
// contract (returns -1 rather than an error when the stream isn't
// seekable) does not satisfy io.Seeker directly.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// defaultBufferCapacity and defaultReadMinCount match the spec's stated
// defaults (1 MiB buffer, 4 KiB read-min).
const (
	defaultBufferCapacity = 1 << 20
	defaultReadMinCount   = 4 << 10
	bufferCapacityGranule = 64 << 10
)

// Options configures Open. Zero values fall back to the spec's defaults.
type Options struct {
	BufferCapacity int
	ReadMinCount   int
	UserAgent      string
	HTTPClient     *http.Client
}

// Stream is the Stream Controller: the public surface of the DVR stream
// engine. A Stream is owned by exactly one goroutine; none of its methods
// are safe to call concurrently, matching the single-threaded cooperative
// model in SPEC_FULL.md §5.
type Stream struct {
	url       string
	capacity  int
	readMin   int
	userAgent string
	client    *http.Client
	ctx       context.Context

	ring   *ringBuffer
	filter *tsFilter
	driver *transferDriver

	started   bool
	startTime time.Time
	scratch   []byte

	restartCount           uint64
	priorBytesTransferred  uint64
	priorPauseEvents       uint64
}

// Open synchronously issues the initial HTTP request and drives the
// transfer until response headers are fully processed, establishing
// can_seek, length, and start_pos. On any open-time failure the partially
// built instance is released and a fatal error returned.
func Open(ctx context.Context, url string, opts Options) (*Stream, error) {
	if url == "" {
		return nil, invalidArgument("url must not be empty")
	}

	capacity := opts.BufferCapacity
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	capacity = roundUpToGranule(capacity, bufferCapacityGranule)

	readMin := opts.ReadMinCount
	if readMin <= 0 {
		readMin = defaultReadMinCount
	}
	readMin = roundDownToGranule(readMin, tsPacketLength)
	if readMin < minReadCountFloor {
		readMin = minReadCountFloor
	}

	client := opts.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}

	ring := newRingBuffer(capacity)
	s := &Stream{
		url:       url,
		capacity:  capacity,
		readMin:   readMin,
		userAgent: opts.UserAgent,
		client:    client,
		ctx:       ctx,
		ring:      ring,
		filter:    newTSFilter(),
	}

	driver, err := newTransferDriver(ctx, client, url, opts.UserAgent, "0-", ring)
	if err != nil {
		return nil, err
	}
	s.driver = driver

	if _, err := driver.transferUntil(func() bool { return driver.headersDone }); err != nil {
		driver.close()
		return nil, err
	}

	return s, nil
}

// defaultHTTPClient builds the fallback client used when Open is not given
// one: IPv4-only dialing (the original restricts connections to tcp4) with a
// 10s connect timeout, following at most 5 redirects.
func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		},
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return nil
		},
	}
}

func roundUpToGranule(n, granule int) int {
	if n%granule == 0 {
		return n
	}
	return (n/granule + 1) * granule
}

func roundDownToGranule(n, granule int) int {
	return (n / granule) * granule
}

// fillAligned drives the transfer until read_min_count bytes are buffered
// (or the transfer ends), then copies a whole-packet-aligned prefix, capped
// at n bytes, into buf. It reports how many bytes were copied and the offset
// of the first complete TS packet within that prefix. Shared by Read and
// Discard, which differ only in whether the filtered bytes are handed back
// to the caller or thrown away afterward.
func (s *Stream) fillAligned(buf []byte, n int) (take, packetOffset int, err error) {
	if _, err := s.driver.transferUntil(func() bool { return s.ring.readable() >= s.readMin }); err != nil {
		return 0, 0, err
	}

	readable := s.ring.readable()
	if readable == 0 {
		return 0, 0, nil
	}

	if !s.started {
		s.started = true
		s.startTime = time.Now()
	}

	readPos := s.ring.readPos
	packetOffset = int(alignUp(readPos, tsPacketLength) - readPos)

	take = readable
	if take > n {
		take = n
	}
	if take >= packetOffset+tsPacketLength {
		aligned := roundDownToGranule(take-packetOffset, tsPacketLength)
		take = packetOffset + aligned
	}

	s.ring.readCopy(buf[:take], take)
	return take, packetOffset, nil
}

// Read implements the spec's read(dst, n): it fills an aligned prefix of dst
// and runs the TS filter over the copied packets before returning.
func (s *Stream) Read(dst []byte) (int, error) {
	n := len(dst)
	if n >= s.capacity {
		return 0, invalidArgument("read size must be less than buffer capacity")
	}
	if n == 0 {
		return 0, nil
	}

	take, packetOffset, err := s.fillAligned(dst, n)
	if err != nil || take == 0 {
		return take, err
	}

	if take >= packetOffset+tsPacketLength {
		count := (take - packetOffset) / tsPacketLength
		s.filter.filterPackets(dst[packetOffset:take], count)
	}

	return take, nil
}

// Discard behaves like Read but drops the bytes instead of handing them back
// to the caller, the idiomatic rendition of the original's dst == nullptr
// discard mode. The bytes still pass through the TS filter on a scratch
// buffer: PCR tracking and PAT/PMT PID discovery need no destination buffer
// of the caller's, so skipping the filter here would leave CurrentTime and
// PMTPIDs permanently zero for any caller that only ever discards. The PMT
// splice rewrite's mutation is moot since scratch is never read back, but it
// still runs (there is no cheaper way to reach the PCR/PAT bookkeeping that
// shares this same pass over the packets).
func (s *Stream) Discard(n int) (int, error) {
	if n >= s.capacity {
		return 0, invalidArgument("discard size must be less than buffer capacity")
	}
	if n == 0 {
		return 0, nil
	}

	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	scratch := s.scratch[:n]

	take, packetOffset, err := s.fillAligned(scratch, n)
	if err != nil || take == 0 {
		return take, err
	}

	if take >= packetOffset+tsPacketLength {
		count := (take - packetOffset) / tsPacketLength
		s.filter.filterPackets(scratch[packetOffset:take], count)
	}

	return take, nil
}

func alignUp(pos int64, align int64) int64 {
	rem := pos % align
	if rem == 0 {
		return pos
	}
	return pos + (align - rem)
}

// Seek implements the spec's seek(offset, whence). It returns (-1, nil)
// when the stream doesn't support seeking, rather than an error: the spec
// treats that as a normal, non-exceptional outcome.
func (s *Stream) Seek(offset int64, whence Whence) (int64, error) {
	if !s.driver.canSeek {
		return -1, nil
	}

	var target int64
	switch whence {
	case SeekSet:
		target = offset
		if target < 0 {
			target = 0
		}
	case SeekCur:
		target = addClamped(s.ring.readPos, offset)
	case SeekEnd:
		target = addClamped(s.driver.length, offset)
	default:
		return 0, invalidArgument("unknown whence")
	}

	if target == s.ring.readPos {
		return target, nil
	}

	if s.ring.retreatTailTo(target) {
		return target, nil
	}

	return s.restart(target)
}

// addClamped adds offset to base. Go's signed integer overflow wraps rather
// than traps, so a sum that ends up negative means the true mathematical
// result over/underflowed int64; which way it overflowed is recoverable
// from the sign of offset, matching the original's clamp rule: a
// non-negative offset that wrapped negative clamps to MaxInt64 (forward
// overflow), anything else clamps to 0 (underflow).
func addClamped(base, offset int64) int64 {
	sum := base + offset
	if sum < 0 {
		if offset >= 0 {
			return math.MaxInt64
		}
		return 0
	}
	return sum
}

// restart detaches the current transfer, resets all positional state while
// preserving start_time and the TS filter's start_pts, and re-issues the
// HTTP request with a byte-range starting at pos.
func (s *Stream) restart(pos int64) (int64, error) {
	s.restartCount++
	s.priorBytesTransferred += s.driver.bytesTransferred
	s.priorPauseEvents += s.driver.pauseCount
	s.driver.close()

	s.filter.currentPTS = 0

	driver, err := newTransferDriver(s.ctx, s.client, s.url, s.userAgent, fmt.Sprintf("%d-", pos), s.ring)
	if err != nil {
		return 0, err
	}
	s.driver = driver

	if _, err := driver.transferUntil(func() bool { return driver.headersDone }); err != nil {
		return 0, err
	}

	return s.ring.readPos, nil
}

// Position returns the absolute offset of the next byte Read will return.
func (s *Stream) Position() int64 { return s.ring.readPos }

// Length returns the resource's total length, or -1 if unknown
// (real-time stream).
func (s *Stream) Length() int64 {
	if s.driver.length == RealTimeLength {
		return -1
	}
	return s.driver.length
}

// RealTime reports whether the resource's length is unknown/unbounded.
func (s *Stream) RealTime() bool {
	return s.driver.length == RealTimeLength
}

// CanSeek reports whether the server advertised byte-range support.
func (s *Stream) CanSeek() bool { return s.driver.canSeek }

// StartTime returns the wall-clock time of the first successful Read, or
// the zero time if no read has yet succeeded.
func (s *Stream) StartTime() time.Time { return s.startTime }

// CurrentTime maps the most recently observed PCR to wall-clock time. It
// returns the zero time if no valid PCR has been observed or PCR tracking
// has degraded.
func (s *Stream) CurrentTime() time.Time {
	f := s.filter
	if f.startPTS == 0 || f.currentPTS == 0 || f.currentPTS < f.startPTS {
		return time.Time{}
	}
	delta := f.currentPTS - f.startPTS
	elapsed := time.Duration(delta/90000)*time.Second + time.Duration(delta%90000)*time.Second/90000
	return s.startTime.Add(elapsed)
}

// PMTPIDs returns a snapshot of the PMT PIDs discovered so far via PAT
// parsing, for diagnostic use (internal/http/handlers' stream snapshot).
func (s *Stream) PMTPIDs() []uint16 {
	pids := make([]uint16, 0, len(s.filter.pmtPIDs))
	for pid := range s.filter.pmtPIDs {
		pids = append(pids, pid)
	}
	return pids
}

// BufferOccupancy returns the number of resident, unread bytes.
func (s *Stream) BufferOccupancy() int { return s.ring.readable() }

// Stats reports cumulative counters for internal/metrics polling: bytes
// accepted into the ring buffer, producer pause events, byte-range
// restarts, and SCTE-splice PMT rewrites.
type Stats struct {
	BytesTransferred uint64
	PauseEvents      uint64
	Restarts         uint64
	PMTRewrites      uint64
}

// Stats returns a snapshot of the stream's cumulative counters.
func (s *Stream) Stats() Stats {
	return Stats{
		BytesTransferred: s.priorBytesTransferred + s.driver.bytesTransferred,
		PauseEvents:      s.priorPauseEvents + s.driver.pauseCount,
		Restarts:         s.restartCount,
		PMTRewrites:      s.filter.rewriteCount,
	}
}

// Close idempotently releases the stream's HTTP transfer and buffer.
func (s *Stream) Close() error {
	if s.driver != nil {
		s.driver.close()
	}
	return nil
}
