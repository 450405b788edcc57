package snowhttp

import (
	"bytes"
	"strconv"
)

var (
	headersEnd   = []byte("\r\n\r\n")
	chunkedProbe = []byte("\r\nTransfer-Encoding: chunked\r\n")
	lengthProbe  = []byte("\r\nContent-Length: ")
	chunkedLast  = []byte("0\r\n\r\n")
	crlf         = []byte("\r\n")
)

// advanceReceive runs the framer over whatever the read buffer now
// holds: detect the end of headers, then check body completion.
func (s *conn) advanceReceive() {
	if s.getState() == connWaiting {
		ok, err := s.frameHeaders()
		if err != nil {
			s.fail(err)
			return
		}
		if !ok {
			// header block not fully received yet
			return
		}
		s.setState(connReceiving)
	}
	if s.getState() == connReceiving {
		s.checkComplete()
	}
}

// frameHeaders looks for the end of the header block from the read
// cursor. On success the cursor moves past it, the framing headers
// are recorded and contentStart marks the first body byte.
func (s *conn) frameHeaders() (bool, error) {
	win := s.readBuf.Window()
	end := bytes.Index(win, headersEnd)
	if end < 0 {
		return false, nil
	}
	block := win[:end+4]

	if bytes.Contains(block, chunkedProbe) {
		s.chunked = true
	} else if i := bytes.Index(block, lengthProbe); i >= 0 {
		n, err := parseDecimal(block[i+len(lengthProbe):])
		if err != nil {
			return false, ErrBadFraming
		}
		s.expectedLen = n
		s.hasLength = true
	}

	s.readBuf.SetTail(s.readBuf.Tail() + end + 4)
	s.contentStart = s.readBuf.Tail()
	return true, nil
}

// checkComplete applies the three completion rules: chunked terminator,
// Content-Length reached, or the bare trailing-newline heuristic for
// responses that carry neither framing header.
func (s *conn) checkComplete() {
	b := s.readBuf
	if s.chunked {
		if b.Head()-s.contentStart >= len(chunkedLast) &&
			bytes.Equal(b.Bytes()[b.Head()-len(chunkedLast):b.Head()], chunkedLast) {
			if err := s.decodeChunks(); err != nil {
				s.fail(err)
				return
			}
			s.finish()
		}
		return
	}
	if s.hasLength {
		if b.Head()-s.contentStart >= s.expectedLen {
			s.contentLen = s.expectedLen
			s.finish()
		}
		return
	}
	if b.Head() > 0 && b.Bytes()[b.Head()-1] == '\n' {
		s.contentLen = b.Head() - s.contentStart
		s.finish()
	}
}

// decodeChunks rewrites the chunked body in place: parse each hex
// size line, slide the payload down to a monotonically advancing
// write cursor, and verify the chunk's trailing CRLF. The decoded
// body starts at contentStart and is NUL-terminated one byte past
// contentLen.
func (s *conn) decodeChunks() error {
	buf := s.readBuf.Bytes()
	head := s.readBuf.Head()
	cur := s.contentStart
	w := s.contentStart
	total := 0

	for cur < head {
		lineEnd := bytes.Index(buf[cur:head], crlf)
		if lineEnd < 0 {
			return ErrBadFraming
		}
		size, err := parseChunkSize(buf[cur : cur+lineEnd])
		if err != nil {
			return ErrBadFraming
		}
		if size == 0 {
			break
		}
		data := cur + lineEnd + 2
		if data+size+2 > head {
			return ErrBadFraming
		}
		copy(buf[w:], buf[data:data+size])
		w += size
		total += size
		if buf[data+size] != '\r' || buf[data+size+1] != '\n' {
			return ErrBadFraming
		}
		cur = data + size + 2
	}

	s.contentLen = total
	s.readBuf.SetHead(w)
	s.readBuf.Terminate()
	return nil
}

func parseChunkSize(line []byte) (int, error) {
	size, err := strconv.ParseInt(string(line), 16, 63)
	if err != nil {
		return -1, err
	}
	if size < 0 {
		return -1, ErrBadFraming
	}
	return int(size), nil
}

func parseDecimal(p []byte) (int, error) {
	n := 0
	i := 0
	for i < len(p) && p[i] >= '0' && p[i] <= '9' {
		n = n*10 + int(p[i]-'0')
		i++
	}
	if i == 0 {
		return 0, ErrBadFraming
	}
	return n, nil
}
