package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	bytesAfterPrefix int
}

// Write writes len(p) bytes from p to the underlying data stream and returns
// back the number of bytes written. The injected prefix is not included in
// the number of written bytes returned by this method.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, lineStart int

	for lineStart < len(p) {
		if w.bytesAfterPrefix == 0 {
			_, _ = w.Sink.Write(w.Prefix)
		}

		lineEnd := lineStart
		for lineEnd < len(p) && p[lineEnd] != '\n' {
			lineEnd++
		}

		// Include the line feed in the chunk; the next line gets its
		// own prefix.
		endsLine := lineEnd < len(p)
		if endsLine {
			lineEnd++
		}

		n, err := w.Sink.Write(p[lineStart:lineEnd])
		written += n
		if err != nil {
			return written, err
		}

		w.bytesAfterPrefix += n
		if endsLine {
			w.bytesAfterPrefix = 0
		}
		lineStart = lineEnd
	}

	return written, nil
}
