package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"

	"tptbm/api/tptbmapi"
	"tptbm/internal/worker/tptbm"
	"tptbm/pkg/dbdriver"
)

// promptPassword asks for the password on the terminal when the driver
// needs one and none was configured. Without a terminal the BenchmarkSpec is left
// alone and validation reports the missing password.
func promptPassword(spec *tptbmapi.BenchmarkSpec, stdin io.Reader, stderr io.Writer) error {
	if spec.Target.Password != nil && *spec.Target.Password != "" {
		return nil
	}
	d, err := dbdriver.Lookup(tptbmapi.GetOptValue(spec.Target.Driver, tptbm.DefaultDriver))
	if err != nil || !d.NeedsCredentials {
		return nil
	}

	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}

	user := tptbmapi.GetOptValue(spec.Target.User, tptbm.DefaultUser)
	fmt.Fprintf(stderr, "Enter password for '%s': ", user)
	pw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return errors.Wrap(err, "read password")
	}
	spec.Target.Password = tptbmapi.Ptr(string(pw))
	return nil
}
