package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/ismailtsdln/dalmock"
)

type colorScheme struct {
	Method      *color.Color
	Path        *color.Color
	StatusOK    *color.Color
	StatusError *color.Color
	StatusAbort *color.Color
	Action      *color.Color
	Highlight   *color.Color
}

func defaultColorScheme() *colorScheme {
	return &colorScheme{
		Method:      color.New(color.FgBlue, color.Bold),
		Path:        color.New(color.FgCyan),
		StatusOK:    color.New(color.FgGreen, color.Bold),
		StatusError: color.New(color.FgRed, color.Bold),
		StatusAbort: color.New(color.FgYellow, color.Bold),
		Action:      color.New(color.FgMagenta),
		Highlight:   color.New(color.FgMagenta, color.Bold),
	}
}

func (c *colorScheme) status(code int) string {
	switch {
	case code == 0:
		return c.StatusAbort.Sprint("ABORT")
	case code >= 400:
		return c.StatusError.Sprint(code)
	default:
		return c.StatusOK.Sprint(code)
	}
}

// printRequest writes one access-log line for a served request.
func (c *colorScheme) printRequest(w io.Writer, req *dalmock.CapturedRequest) {
	fmt.Fprintf(w, "%s %s -> %s %s %dB %s\n",
		c.Method.Sprint(req.Method),
		c.Path.Sprint(req.Path),
		c.status(req.StatusCode),
		c.Action.Sprint(req.Action.String()),
		req.Bytes,
		req.Duration.Round(10*time.Microsecond),
	)
}
