package protocol

import (
	"io"
	"time"
)

// chunkSource replays a fixed list of reads. An empty chunk is a read that
// timed out with no data. Once the chunks run out every read times out, or
// fails with err when set.
type chunkSource struct {
	chunks [][]byte
	err    error
	reads  int
}

func newChunkSource(chunks ...[]byte) *chunkSource {
	return &chunkSource{chunks: chunks}
}

func (s *chunkSource) ReadUpTo(n int, _ time.Duration) ([]byte, error) {
	s.reads++
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, nil
	}
	c := s.chunks[0]
	if len(c) > n {
		s.chunks[0] = c[n:]
		return c[:n], nil
	}
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkSource) ReadExact(n int) ([]byte, error) {
	var out []byte
	for len(out) < n {
		if len(s.chunks) == 0 {
			if s.err != nil {
				return out, s.err
			}
			break
		}
		c := s.chunks[0]
		if len(c) == 0 {
			s.chunks = s.chunks[1:]
			break
		}
		need := n - len(out)
		if len(c) > need {
			out = append(out, c[:need]...)
			s.chunks[0] = c[need:]
		} else {
			out = append(out, c...)
			s.chunks = s.chunks[1:]
		}
	}
	if len(out) < n {
		return out, io.ErrUnexpectedEOF
	}
	return out, nil
}
