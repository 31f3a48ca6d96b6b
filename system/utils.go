package system

import (
	"bufio"
	"bytes"
	"io"
)

// The maximum length of a single console line. Longer lines are truncated.
var maxBufferSize = 64 * 1024

// FirstNotEmpty returns the first string passed in that is not an empty value.
func FirstNotEmpty(v ...string) string {
	for _, val := range v {
		if val != "" {
			return val
		}
	}
	return ""
}

// ScanReader reads the reader line by line and passes every line to the
// callback. A line longer than 64KB is truncated, the rest of it is dropped.
func ScanReader(r io.Reader, callback func(line []byte)) error {
	br := bufio.NewReaderSize(r, 256)
	// Reuse the same buffer for the duration of the call.
	var buf bytes.Buffer
	for {
		buf.Reset()
		var err error
		var line []byte
		var isPrefix bool

		for {
			line, isPrefix, err = br.ReadLine()
			ns := buf.Len() + len(line)

			// Once the line no longer fits, keep what does and skip ahead to
			// the next line.
			if ns > maxBufferSize {
				buf.Write(line[:len(line)-(ns-maxBufferSize)])
				for isPrefix && err == nil {
					_, isPrefix, err = br.ReadLine()
				}
				break
			}
			buf.Write(line)
			if err != nil && err != io.EOF {
				return err
			}
			if !isPrefix || err == io.EOF {
				break
			}
		}
		if err != nil && err != io.EOF {
			return err
		}

		if buf.Len() > 0 {
			// The callback may hold on to the line, so hand it a copy.
			c := make([]byte, buf.Len())
			copy(c, buf.Bytes())
			callback(c)
		}

		if err == io.EOF {
			break
		}
	}
	return nil
}
