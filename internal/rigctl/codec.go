package rigctl

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	extendedPrefix = '+'
	reportMarker   = "RPRT "
)

// ErrMalformedResponse is returned when a response has no parsable RPRT line.
var ErrMalformedResponse = errors.New("malformed rigctld response")

// DaemonError is a non-zero RPRT code reported by rigctld.
type DaemonError struct {
	Code int
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("rigctld error code: %d", e.Code)
}

// Response is a decoded extended-protocol reply.
// Values is nil when the daemon returned no data lines (set commands).
type Response struct {
	Code   int
	Values []string
}

// EncodeCommand frames a command for the extended response protocol.
func EncodeCommand(command string) []byte {
	command = strings.TrimRight(command, "\r\n")
	buf := make([]byte, 0, len(command)+2)
	buf = append(buf, extendedPrefix)
	buf = append(buf, command...)
	buf = append(buf, '\n')

	return buf
}

// Decoder accumulates socket reads until a full response is buffered.
type Decoder struct {
	buf bytes.Buffer
}

// Feed appends p and reports whether the buffered bytes hold a complete response.
func (d *Decoder) Feed(p []byte) bool {
	d.buf.Write(p)

	return d.Complete()
}

// Complete reports whether a newline-terminated RPRT line has been buffered.
func (d *Decoder) Complete() bool {
	_, ok := reportLineEnd(d.buf.Bytes())

	return ok
}

// Decode parses the buffered bytes as a query/set response.
func (d *Decoder) Decode() (Response, error) {
	return DecodeResponse(d.buf.Bytes())
}

// DecodeCapabilities parses the buffered bytes as a dump_caps response.
func (d *Decoder) DecodeCapabilities() ([]string, error) {
	return DecodeCapabilityLines(d.buf.Bytes())
}

// DecodeResponse parses a complete extended response. A non-zero RPRT code
// yields a *DaemonError alongside the decoded response.
func DecodeResponse(raw []byte) (Response, error) {
	lines := splitLines(raw)
	rprt := findReportLine(lines)
	if rprt < 0 {
		return Response{}, ErrMalformedResponse
	}
	code, err := parseReportCode(lines[rprt])
	if err != nil {
		return Response{}, err
	}

	resp := Response{Code: code}
	if code != 0 {
		return resp, &DaemonError{Code: code}
	}

	for _, line := range lines[:rprt] {
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		resp.Values = append(resp.Values, lineValue(line))
	}

	return resp, nil
}

// DecodeCapabilityLines returns the lines between the command echo and the
// RPRT line verbatim.
func DecodeCapabilityLines(raw []byte) ([]string, error) {
	lines := splitLines(raw)
	rprt := findReportLine(lines)
	if rprt < 0 {
		return nil, ErrMalformedResponse
	}
	code, err := parseReportCode(lines[rprt])
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, &DaemonError{Code: code}
	}
	if rprt == 0 {
		return nil, fmt.Errorf("invalid capabilities response: %w", ErrMalformedResponse)
	}

	out := make([]string, 0, rprt-1)
	out = append(out, lines[1:rprt]...)

	return out, nil
}

func lineValue(line string) string {
	if idx := strings.Index(line, ": "); idx >= 0 {
		return line[idx+2:]
	}

	return line
}

func splitLines(raw []byte) []string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}

	return lines
}

func findReportLine(lines []string) int {
	for i, line := range lines {
		if strings.HasPrefix(line, reportMarker) {
			return i
		}
	}

	return -1
}

func parseReportCode(line string) (int, error) {
	fields := strings.Fields(strings.TrimPrefix(line, reportMarker))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty report code: %w", ErrMalformedResponse)
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parse report code %q: %w", fields[0], ErrMalformedResponse)
	}

	return code, nil
}

// reportLineEnd finds the first "RPRT " in buf and returns the index just
// past its terminating newline.
func reportLineEnd(buf []byte) (int, bool) {
	idx := bytes.Index(buf, []byte(reportMarker))
	if idx < 0 {
		return 0, false
	}
	nl := bytes.IndexByte(buf[idx:], '\n')
	if nl < 0 {
		return 0, false
	}

	return idx + nl + 1, true
}
