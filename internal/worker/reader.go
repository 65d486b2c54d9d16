package worker

import (
	"io"
)

// progressReader reports bytes read from a part body as in-flight progress.
// It only reports past its high-water mark, so a body that is rewound and
// read again (for signing or checksums) is never counted twice.
type progressReader struct {
	reader io.Reader
	report func(n int64)
	pos    int64
	high   int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.pos += int64(n)
		if pr.pos > pr.high {
			pr.report(pr.pos - pr.high)
			pr.high = pr.pos
		}
	}
	//nolint:wrapcheck // io.Reader interface contract - error comes from underlying reader
	return n, err
}

// Seek is only available when the underlying reader can seek.
func (pr *progressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := pr.reader.(io.Seeker)
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	pos, err := s.Seek(offset, whence)
	if err != nil {
		//nolint:wrapcheck // io.Seeker interface contract
		return pos, err
	}
	pr.pos = pos
	return pos, nil
}
