package log

import (
	"fmt"
	"strings"
)

// PrintfLogger adapts a Logger to the printf-style logging interfaces expected
// by third-party clients (resty, paho).
type PrintfLogger struct {
	l Logger
}

// NewPrintfLogger returns a PrintfLogger writing to l.
func NewPrintfLogger(l Logger) *PrintfLogger {
	return &PrintfLogger{l: l}
}

func (p *PrintfLogger) Errorf(format string, v ...any) {
	p.l.Error(nil, line(fmt.Sprintf(format, v...)))
}

func (p *PrintfLogger) Warnf(format string, v ...any) {
	p.l.Warn(line(fmt.Sprintf(format, v...)))
}

func (p *PrintfLogger) Debugf(format string, v ...any) {
	p.l.Debug(line(fmt.Sprintf(format, v...)))
}

func (p *PrintfLogger) Printf(format string, v ...any) {
	p.l.Debug(line(fmt.Sprintf(format, v...)))
}

func (p *PrintfLogger) Println(v ...any) {
	p.l.Debug(line(fmt.Sprintln(v...)))
}

func line(s string) string {
	return strings.TrimRight(s, "\r\n")
}
