package conn

import (
	"encoding/binary"

	"github.com/danmuck/omapi/internal/observability"
	"github.com/danmuck/omapi/internal/omapi"
	"github.com/danmuck/omapi/internal/omapi/wire"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Require records that the next read needs n bytes. It reports NotYet
// until that many bytes are buffered; callers poll again, never block.
func (c *Connection) Require(n int) omapi.Status {
	if n < 0 || n > BufSize {
		return omapi.StatusInvalidArgument
	}
	c.bytesNeeded = n
	if n <= c.inBytes {
		return omapi.StatusSuccess
	}
	return omapi.StatusNotYet
}

// ReadFD withholds the socket while the input buffer is full and already
// covers what the consumer asked for.
func (c *Connection) ReadFD() (int, bool) {
	if c.state != StateConnected || c.fd < 0 {
		return -1, false
	}
	if c.inBytes >= BufSize-1 && c.inBytes > c.bytesNeeded {
		return -1, false
	}
	return c.fd, true
}

func (c *Connection) WriteFD() (int, bool) {
	if c.outBytes == 0 || c.fd < 0 {
		return -1, false
	}
	return c.fd, true
}

// Reader performs one non-blocking read into the input buffer.
func (c *Connection) Reader() omapi.Status {
	if c.fd < 0 {
		return omapi.StatusNotConnected
	}
	if c.inBytes == len(c.in) {
		return omapi.StatusSuccess
	}
	n, err := unix.Read(c.fd, c.in[c.inBytes:])
	if err != nil {
		if temporary(err) {
			return omapi.StatusSuccess
		}
		status := statusFromErr(err)
		log.Warn().Err(err).Stringer("remote", c.remote).Msg("read failed")
		c.Disconnect(true)
		return status
	}
	if n == 0 {
		return c.Disconnect(false)
	}
	before := c.inBytes
	c.inBytes += n
	observability.RecordConnectionBytes("in", n)
	if c.bytesNeeded > 0 && before < c.bytesNeeded && c.inBytes >= c.bytesNeeded {
		omapi.SendSignal(c, omapi.Ready{Conn: c, Bytes: c.inBytes})
	}
	return omapi.StatusSuccess
}

// Writer sends the oldest queued chunk in one non-blocking write.
func (c *Connection) Writer() omapi.Status {
	if c.fd < 0 {
		return omapi.StatusNotConnected
	}
	if c.outBytes == 0 {
		return omapi.StatusSuccess
	}
	head := c.out.Peek().(*chunk)
	n, err := unix.Write(c.fd, head.data)
	if err != nil {
		if temporary(err) {
			return omapi.StatusSuccess
		}
		status := statusFromErr(err)
		log.Warn().Err(err).Stringer("remote", c.remote).Msg("write failed")
		c.Disconnect(true)
		return status
	}
	c.consumeOut(n)
	observability.RecordConnectionBytes("out", n)
	return omapi.StatusSuccess
}

func (c *Connection) consumeOut(n int) {
	for n > 0 && c.out.Length() > 0 {
		head := c.out.Peek().(*chunk)
		if n < len(head.data) {
			head.data = head.data[n:]
			c.outBytes -= n
			return
		}
		n -= len(head.data)
		c.outBytes -= len(head.data)
		c.out.Remove()
	}
}

// Reaper finishes a deferred close once output has drained and reports
// NotConnected when the connection is closed.
func (c *Connection) Reaper() omapi.Status {
	if c.state == StateDisconnecting && c.outBytes == 0 {
		c.Disconnect(true)
	}
	if c.state == StateClosed {
		return omapi.StatusNotConnected
	}
	return omapi.StatusSuccess
}

// CopyOut moves len(dst) bytes from the input buffer into dst.
func (c *Connection) CopyOut(dst []byte) omapi.Status {
	if len(dst) > c.inBytes {
		return omapi.StatusNotYet
	}
	copy(dst, c.in[:len(dst)])
	copy(c.in, c.in[len(dst):c.inBytes])
	c.inBytes -= len(dst)
	if c.bytesNeeded > c.inBytes {
		c.bytesNeeded = 0
	}
	return omapi.StatusSuccess
}

func (c *Connection) GetUint16() (uint16, omapi.Status) {
	var b [2]byte
	if status := c.CopyOut(b[:]); status != omapi.StatusSuccess {
		return 0, status
	}
	return binary.BigEndian.Uint16(b[:]), omapi.StatusSuccess
}

func (c *Connection) GetUint32() (uint32, omapi.Status) {
	var b [4]byte
	if status := c.CopyOut(b[:]); status != omapi.StatusSuccess {
		return 0, status
	}
	return binary.BigEndian.Uint32(b[:]), omapi.StatusSuccess
}

// CopyIn queues b for sending.
func (c *Connection) CopyIn(b []byte) omapi.Status {
	if c.state != StateConnected {
		return omapi.StatusNotConnected
	}
	for len(b) > 0 {
		var tail *chunk
		if c.out.Length() > 0 {
			tail = c.out.Get(c.out.Length() - 1).(*chunk)
		}
		if tail == nil || len(tail.data) == cap(tail.data) {
			tail = &chunk{data: make([]byte, 0, BufSize)}
			c.out.Add(tail)
		}
		n := cap(tail.data) - len(tail.data)
		if n > len(b) {
			n = len(b)
		}
		tail.data = append(tail.data, b[:n]...)
		c.outBytes += n
		b = b[n:]
	}
	return omapi.StatusSuccess
}

func (c *Connection) PutName(name string) omapi.Status {
	buf, err := wire.AppendName(nil, name)
	if err != nil {
		return omapi.StatusInvalidArgument
	}
	return c.CopyIn(buf)
}

func (c *Connection) PutString(s string) omapi.Status {
	return c.CopyIn(wire.AppendString(nil, s))
}

// PutUint32 writes a bare four-byte integer.
func (c *Connection) PutUint32(v uint32) omapi.Status {
	return c.CopyIn(wire.AppendUint32(nil, v))
}

func (c *Connection) PutUint16(v uint16) omapi.Status {
	return c.CopyIn(wire.AppendUint16(nil, v))
}

func (c *Connection) PutTypedData(d *omapi.TypedData) omapi.Status {
	buf, err := wire.AppendTypedData(nil, d)
	if err != nil {
		log.Debug().Err(err).Msg("encode value failed")
		return omapi.StatusInvalidArgument
	}
	return c.CopyIn(buf)
}
