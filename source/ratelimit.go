// source/ratelimit.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// Taken from skicka: gdrive/readers.go. (c)2015, Google, Inc. (BSD Licensed).
// Updated to use time.Ticker

package source

import (
	"io"
	"sync"
	"time"
)

///////////////////////////////////////////////////////////////////////////
// Bandwidth-limiting io.Reader

// Maximum number of bytes of data that we are currently allowed to
// download given the bandwidth limit set by the user, if any.  This value
// is reduced by the rateLimitedReader.Read() method when data is
// downloaded, and is periodically increased by the task launched by
// InitBandwidthLimit().
var availableDownloadBytes int
var downloadBandwidthLimited bool
var bandwidthTaskRunning bool

// Mutex to protect availableDownloadBytes.
var bandwidthMutex sync.Mutex
var bandwidthCond = sync.NewCond(&bandwidthMutex)

// InitBandwidthLimit caps the rate at which source file data is
// downloaded from remote directories. This filesystem never uploads, so
// only the download direction is limited.
func InitBandwidthLimit(downloadBytesPerSecond int) {
	log.Check(!bandwidthTaskRunning)

	downloadBandwidthLimited = downloadBytesPerSecond != 0
	if !downloadBandwidthLimited {
		return
	}

	bandwidthMutex.Lock()
	defer bandwidthMutex.Unlock()
	bandwidthTaskRunning = true

	// 1/8th of a second
	ticker := time.NewTicker(125 * time.Millisecond)

	go func() {
		for {
			<-ticker.C

			bandwidthMutex.Lock()

			// Release 1/8th of the per-second limit every 8th of a second.
			// The 94/100 factor in the amount released adds some slop to
			// account for TCP/IP overhead and HTTP headers in an effort to
			// have the actual bandwidth used not exceed the desired limit.
			availableDownloadBytes += downloadBytesPerSecond * 94 / 100 / 8
			if availableDownloadBytes > downloadBytesPerSecond {
				// Don't ever queue up more than one second's worth of
				// transmission.
				availableDownloadBytes = downloadBytesPerSecond
			}

			// Wake up any threads that are waiting for more bandwidth now
			// that we've doled some more out.
			bandwidthCond.Broadcast()
			bandwidthMutex.Unlock()
		}
	}()
}

// rateLimitedReader is an io.Reader implementation that returns no more
// bytes than the current value of availableDownloadBytes.  Thus, as long
// as the download path wraps the underlying io.Readers for downloads from
// GCS, then we should stay under the bandwidth per second limit.
type rateLimitedReader struct {
	R io.Reader
}

func NewLimitedDownloadReader(r io.Reader) io.Reader {
	if downloadBandwidthLimited {
		return rateLimitedReader{R: r}
	}
	return r
}

func (lr rateLimitedReader) Read(dst []byte) (int, error) {
	// Loop until some amount of bandwidth is available.
	bandwidthMutex.Lock()
	for {
		log.Check(availableDownloadBytes >= 0)

		if availableDownloadBytes > 0 {
			break
		}
		// No further downloading is possible at the moment; wait for the
		// thread that periodically doles out more bandwidth to do its
		// thing, at which point it will signal the condition variable.
		bandwidthCond.Wait()
	}

	// The caller would like us to return up to this many bytes...
	n := len(dst)

	// but don't do more than we're allowed to...
	if n > availableDownloadBytes {
		n = availableDownloadBytes
	}

	// Update the budget for the maximum amount of what we may consume and
	// relinquish the lock so that other workers can claim bandwidth.
	availableDownloadBytes -= n
	bandwidthMutex.Unlock()

	read, err := lr.R.Read(dst[:n])
	if read < n {
		// It may turn out that the amount we read from the original
		// io.Reader is less than the caller asked for; in this case,
		// we give back the bandwidth that we reserved but didn't use.
		bandwidthMutex.Lock()
		availableDownloadBytes += n - read
		bandwidthMutex.Unlock()
	}

	return read, err
}
