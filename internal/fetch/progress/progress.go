// Package progress wraps a reader so long transfers surface periodic byte
// counts without the copy loop knowing about logging.
package progress

import "io"

const defaultInterval = 32 << 20 // 32MB

// Reader counts bytes as they stream through and calls the report callback
// once per interval. Total is the expected size, or -1 when unknown.
type Reader struct {
	src        io.Reader
	total      int64
	interval   int64
	read       int64
	unreported int64
	report     func(read, total int64)
}

// New wraps src. Intervals below one fall back to a sane default so a
// zero-valued config never reports on every read.
func New(src io.Reader, total, interval int64, report func(read, total int64)) *Reader {
	if interval < 1 {
		interval = defaultInterval
	}

	return &Reader{src: src, total: total, interval: interval, report: report}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.read += int64(n)
		r.unreported += int64(n)

		if r.unreported >= r.interval && r.report != nil {
			r.report(r.read, r.total)
			r.unreported = 0
		}
	}

	return n, err
}
