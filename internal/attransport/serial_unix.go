//go:build linux

package attransport

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// baudRates maps a configured integer baud rate to the termios constant,
// the same fixed-table approach the pack's Daedaluz-goserial reference uses
// for raw termios configuration, trimmed to the rates this modem dialect
// actually uses.
var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// SerialPort is a raw (8N1, no echo, no flow control) serial line opened in
// blocking mode, implementing LineReadWriter over a buffered line scanner.
// Grounded on the termios/ioctl approach in the pack's Daedaluz-goserial
// reference, simplified to the fixed-baud AT modem link this gateway needs.
type SerialPort struct {
	f       *os.File
	scanner *bufio.Scanner
	lines   chan string
	errs    chan error
}

// OpenSerial opens path at the given baud rate and puts it into raw mode.
func OpenSerial(path string, baud int) (*SerialPort, error) {
	rate, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("attransport: unsupported baud rate %d", baud)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("attransport: open %s: %w", path, err)
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("attransport: get termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1 // 100ms granularity; SerialPort layers its own deadline on top

	if err := unix.IoctlSetTermiosSpeed(fd, rate); err != nil {
		f.Close()
		return nil, fmt.Errorf("attransport: set baud: %w", err)
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("attransport: set termios: %w", err)
	}

	sp := &SerialPort{
		f:     f,
		lines: make(chan string, 64),
		errs:  make(chan error, 1),
	}
	sp.scanner = bufio.NewScanner(f)
	go sp.readLoop()
	return sp, nil
}

func (s *SerialPort) readLoop() {
	for s.scanner.Scan() {
		s.lines <- s.scanner.Text()
	}
	if err := s.scanner.Err(); err != nil {
		s.errs <- err
	}
	close(s.lines)
}

// WriteLine writes line terminated by CRLF, the AT dialect's line ending.
func (s *SerialPort) WriteLine(line string) error {
	_, err := s.f.Write([]byte(line + "\r\n"))
	return err
}

// ReadLine returns the next complete line, or ErrTimeout if none arrives
// within timeout.
func (s *SerialPort) ReadLine(timeout time.Duration) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			select {
			case err := <-s.errs:
				return "", err
			default:
				return "", fmt.Errorf("attransport: serial port closed")
			}
		}
		return line, nil
	case <-time.After(timeout):
		return "", ErrTimeout
	}
}

// Close releases the underlying file descriptor.
func (s *SerialPort) Close() error {
	return s.f.Close()
}
