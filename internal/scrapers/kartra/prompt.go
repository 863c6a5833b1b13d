package kartra

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PromptLogin is a LoginFunc that has the user log in with a real browser and
// paste the Cookie header of any authenticated request. Input is hidden when
// in is a terminal.
func PromptLogin(in *os.File, out io.Writer, loginUrl string) LoginFunc {
	return func(ctx context.Context) ([]Cookie, error) {
		fmt.Fprintf(out, "Log in at %s and paste the Cookie header of any request: ", loginUrl)

		var line []byte
		var err error
		if term.IsTerminal(int(in.Fd())) {
			line, err = term.ReadPassword(int(in.Fd()))
			fmt.Fprintln(out)
		} else {
			line, err = bufio.NewReader(in).ReadBytes('\n')
			if errors.Is(err, io.EOF) && len(line) > 0 {
				err = nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("read cookies: %w", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		cookies := ParseCookieHeader(string(line))
		if len(cookies) == 0 {
			return nil, errors.New("no cookies were pasted")
		}
		return cookies, nil
	}
}
