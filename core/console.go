package core

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/encodeous/dvr/state"
)

// RunConsole reads "<dest> <message>" lines from in and sends each message as DATA.
// Lines that cannot be parsed are logged and skipped.
func RunConsole(ctx context.Context, r *Router, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		dst, msg, _ := strings.Cut(line, " ")
		dest, err := state.ParseAddress(dst)
		if err != nil {
			r.Env.Log.Warn("usage: <dest> <message>", "error", err)
			continue
		}
		if err := r.SendData(dest, []byte(msg)); err != nil {
			r.Env.Log.Warn("failed to send message", "dest", dest, "error", err)
		}
	}
	return sc.Err()
}
